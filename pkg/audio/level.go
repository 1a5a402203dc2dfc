package audio

import "math"

// levelGain maps speech-range RMS values (roughly 0.0–0.2) onto the full
// display range of [Level].
const levelGain = 5

// RMS returns the root-mean-square amplitude sqrt(mean(s²)) of samples.
// An empty slice has an RMS of zero.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level returns the RMS loudness of samples scaled for a meter display and
// clamped to [0, 1].
func Level(samples []float32) float64 {
	return min(RMS(samples)*levelGain, 1)
}
