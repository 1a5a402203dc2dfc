package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrContextClosed is returned when a node is created on, or audio is
// scheduled to, a context that has already been closed.
var ErrContextClosed = errors.New("audio: context closed")

// errDetached is returned from a [SourceNode] read after Disconnect.
var errDetached = errors.New("audio: source disconnected")

// readChunk is the number of samples requested from a source per read.
const readChunk = 1024

// SampleReader is a pull-based mono sample source, typically a microphone
// track. ReadSamples blocks until at least one sample is available and
// returns io.EOF once the source has ended.
type SampleReader interface {
	SampleRate() int
	ReadSamples(p []float32) (int, error)
}

// InputContext is the capture-side audio clock. It fixes the sample rate that
// all processing nodes deliver at and tracks capture time as the number of
// frames delivered.
//
// An InputContext is owned by a single capture direction; its nodes are
// disconnected when it is closed. All methods are safe for concurrent use.
type InputContext struct {
	rate   int
	frames atomic.Int64

	mu     sync.Mutex
	closed bool
	procs  []*ProcessorNode
	srcs   []*SourceNode
}

// NewInputContext creates an input clock running at rate Hz.
func NewInputContext(rate int) *InputContext {
	return &InputContext{rate: rate}
}

// SampleRate returns the context sample rate in Hz.
func (c *InputContext) SampleRate() int { return c.rate }

// CurrentTime returns the capture time: frames delivered divided by the rate.
func (c *InputContext) CurrentTime() time.Duration {
	return FramesToDuration(c.frames.Load(), c.rate)
}

// CreateSource wraps r as a graph source node.
func (c *InputContext) CreateSource(r SampleReader) (*SourceNode, error) {
	if r == nil {
		return nil, fmt.Errorf("audio: create source: nil reader")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	src := &SourceNode{reader: r}
	c.srcs = append(c.srcs, src)
	return src, nil
}

// CreateProcessor attaches a fixed-size block processor to src. Blocks of
// exactly blockSize samples at the context rate are delivered to onBlock in
// capture order from a single goroutine. Source audio at a different rate is
// resampled first.
func (c *InputContext) CreateProcessor(src *SourceNode, blockSize int, onBlock func(Block)) (*ProcessorNode, error) {
	if src == nil || onBlock == nil {
		return nil, fmt.Errorf("audio: create processor: nil source or callback")
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("audio: create processor: block size %d", blockSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}
	p := &ProcessorNode{
		ctx:       c,
		src:       src,
		blockSize: blockSize,
		onBlock:   onBlock,
		done:      make(chan struct{}),
	}
	c.procs = append(c.procs, p)
	go p.run()
	return p, nil
}

// Close disconnects every node created on the context. Calling Close more
// than once is safe and returns nil.
func (c *InputContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	procs, srcs := c.procs, c.srcs
	c.procs, c.srcs = nil, nil
	c.mu.Unlock()

	for _, p := range procs {
		p.Disconnect()
	}
	for _, s := range srcs {
		s.Disconnect()
	}
	return nil
}

// SourceNode feeds samples from a [SampleReader] into the graph.
type SourceNode struct {
	reader   SampleReader
	detached atomic.Bool
}

// SampleRate returns the native rate of the underlying reader.
func (s *SourceNode) SampleRate() int { return s.reader.SampleRate() }

// Disconnect detaches the node from its reader. Subsequent reads fail.
// Idempotent.
func (s *SourceNode) Disconnect() { s.detached.Store(true) }

func (s *SourceNode) read(p []float32) (int, error) {
	if s.detached.Load() {
		return 0, errDetached
	}
	return s.reader.ReadSamples(p)
}

// ProcessorNode slices source audio into fixed-size blocks.
type ProcessorNode struct {
	ctx       *InputContext
	src       *SourceNode
	blockSize int
	onBlock   func(Block)

	stopped atomic.Bool
	done    chan struct{}
}

// Disconnect stops block delivery. A read that is already blocked in the
// source completes in the background and its samples are discarded.
// Idempotent.
func (p *ProcessorNode) Disconnect() { p.stopped.Store(true) }

// Done is closed once the processing goroutine has exited.
func (p *ProcessorNode) Done() <-chan struct{} { return p.done }

func (p *ProcessorNode) run() {
	defer close(p.done)

	srcRate := p.src.SampleRate()
	dstRate := p.ctx.rate
	if srcRate != dstRate {
		slog.Debug("audio input resampling",
			"from", formatString(srcRate, 1),
			"to", formatString(dstRate, 1),
		)
	}

	buf := make([]float32, readChunk)
	pending := make([]float32, 0, p.blockSize*2)

	for {
		n, err := p.src.read(buf)
		if p.stopped.Load() {
			return
		}
		if n > 0 {
			pending = append(pending, ResampleFloat32(buf[:n], srcRate, dstRate)...)
			for len(pending) >= p.blockSize {
				block := make(Block, p.blockSize)
				copy(block, pending)
				pending = append(pending[:0], pending[p.blockSize:]...)
				if p.stopped.Load() {
					return
				}
				p.ctx.frames.Add(int64(p.blockSize))
				p.onBlock(block)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, errDetached) {
				slog.Warn("audio input read failed", "err", err)
			}
			return
		}
	}
}
