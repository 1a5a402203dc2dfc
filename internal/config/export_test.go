package config

// CheckNow runs one poll synchronously.
func (w *Watcher) CheckNow() { w.check() }
