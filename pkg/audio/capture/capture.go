// Package capture wires a microphone track into a live session.
//
// A [Pipeline] attaches a fixed-size block processor to the track on an
// [audio.InputContext]. For every block it reports loudness, encodes the
// samples as base64 PCM16 and hands the result to a non-blocking sink. The
// pipeline never waits on the network: sinks are expected to enqueue or drop.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skillpath/livetutor/pkg/audio"
	"github.com/skillpath/livetutor/pkg/provider/live"
)

// DefaultBlockSize is the number of samples per processing block.
const DefaultBlockSize = 4096

// Sink receives encoded blocks in capture order. It must not block.
type Sink func(live.Blob)

// LevelFunc receives the display loudness of each block, in [0, 1].
type LevelFunc func(level float64)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBlockSize overrides [DefaultBlockSize].
func WithBlockSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithLevel registers a loudness callback.
func WithLevel(fn LevelFunc) Option {
	return func(p *Pipeline) { p.level = fn }
}

// Pipeline is a running capture graph: source node, then block processor.
type Pipeline struct {
	blockSize int
	level     LevelFunc
	sink      Sink
	rate      int

	src  *audio.SourceNode
	proc *audio.ProcessorNode

	blocks   atomic.Int64
	stopOnce sync.Once
}

// Start attaches track to ctx and begins delivering blocks to sink.
func Start(ctx *audio.InputContext, track audio.SampleReader, sink Sink, opts ...Option) (*Pipeline, error) {
	if sink == nil {
		return nil, fmt.Errorf("capture: start: nil sink")
	}
	p := &Pipeline{
		blockSize: DefaultBlockSize,
		sink:      sink,
		rate:      ctx.SampleRate(),
	}
	for _, o := range opts {
		o(p)
	}

	src, err := ctx.CreateSource(track)
	if err != nil {
		return nil, fmt.Errorf("capture: create source: %w", err)
	}
	proc, err := ctx.CreateProcessor(src, p.blockSize, p.onBlock)
	if err != nil {
		src.Disconnect()
		return nil, fmt.Errorf("capture: create processor: %w", err)
	}
	p.src, p.proc = src, proc

	slog.Debug("audio capture started", "rate", p.rate, "block_size", p.blockSize)
	return p, nil
}

func (p *Pipeline) onBlock(b audio.Block) {
	if p.level != nil {
		p.level(audio.Level(b))
	}
	mime, data := audio.EncodeBase64(b, p.rate)
	p.blocks.Add(1)
	p.sink(live.Blob{MIMEType: mime, Data: data})
}

// Blocks returns the number of blocks handed to the sink.
func (p *Pipeline) Blocks() int64 { return p.blocks.Load() }

// Stop disconnects the processor and then the source. It never fails and
// may be called any number of times.
func (p *Pipeline) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		p.proc.Disconnect()
		p.src.Disconnect()
		slog.Debug("audio capture stopped", "blocks", p.blocks.Load())
	})
}

// Done is closed when the processor goroutine has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.proc.Done() }
