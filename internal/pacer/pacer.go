// Package pacer schedules synthesized audio onto the call leg at real-time
// cadence so the far end's jitter buffer is never overrun.
package pacer

import (
	"sync"
	"time"
)

// WriteFunc delivers one chunk to the transport. Errors are the transport's
// concern; the pacer keeps ticking regardless.
type WriteFunc func(chunk []byte)

// Policy selects how queued audio reaches the transport.
type Policy int

const (
	// PolicyPaced emits exactly one chunk-sized block per tick, waiting
	// for the next tick when less than a full chunk is buffered.
	PolicyPaced Policy = iota
	// PolicyImmediate writes whatever is queued as soon as it arrives,
	// for transports whose downstream jitter buffering is adequate.
	PolicyImmediate
)

// Config holds the pacing parameters for one session.
type Config struct {
	Policy Policy
	// ChunkBytes is the block size emitted per tick under PolicyPaced.
	ChunkBytes int
	// Interval is the tick period, equal to one chunk's audio duration.
	Interval time.Duration
}

// Pacer buffers outbound audio bytes and hands them to a write callback
// according to the configured policy. Push, Clear and Close may be called
// from any goroutine; the write callback runs on the pacer's own goroutine
// under PolicyPaced and on the caller's goroutine under PolicyImmediate.
type Pacer struct {
	cfg   Config
	write WriteFunc

	mu     sync.Mutex
	queue  []byte
	closed bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a pacer. Under PolicyPaced the ticker goroutine starts
// immediately and runs until Close.
func New(cfg Config, write WriteFunc) *Pacer {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 320
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}

	p := &Pacer{
		cfg:   cfg,
		write: write,
		done:  make(chan struct{}),
	}
	if cfg.Policy == PolicyPaced {
		go p.run()
	}
	return p
}

// Push appends audio bytes to the queue. Under PolicyImmediate the bytes
// are written through right away.
func (p *Pacer) Push(audio []byte) {
	if len(audio) == 0 {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.cfg.Policy == PolicyImmediate {
		p.mu.Unlock()
		p.write(audio)
		return
	}
	p.queue = append(p.queue, audio...)
	p.mu.Unlock()
}

// Clear discards all queued unsent audio. Called on interruption.
func (p *Pacer) Clear() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
}

// Buffered reports how many unsent bytes are queued.
func (p *Pacer) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the ticker and drops anything still queued. Safe to call
// more than once.
func (p *Pacer) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *Pacer) run() {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			chunk := p.dequeue()
			if chunk != nil {
				p.write(chunk)
			}
		}
	}
}

// dequeue removes exactly one chunk if a full one is buffered. Partial
// chunks wait for the next tick rather than being padded.
func (p *Pacer) dequeue() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.queue) < p.cfg.ChunkBytes {
		return nil
	}
	chunk := append([]byte(nil), p.queue[:p.cfg.ChunkBytes]...)
	p.queue = p.queue[p.cfg.ChunkBytes:]
	return chunk
}
