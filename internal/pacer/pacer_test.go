package pacer

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

type chunkRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *chunkRecorder) write(chunk []byte) {
	r.mu.Lock()
	r.chunks = append(r.chunks, append([]byte(nil), chunk...))
	r.mu.Unlock()
}

func (r *chunkRecorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func TestPacedEmitsFixedChunks(t *testing.T) {
	rec := &chunkRecorder{}
	p := New(Config{
		Policy:     PolicyPaced,
		ChunkBytes: 4,
		Interval:   5 * time.Millisecond,
	}, rec.write)
	defer p.Close()

	p.Push([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	deadline := time.After(500 * time.Millisecond)
	for {
		chunks := rec.snapshot()
		if len(chunks) >= 2 {
			if !bytes.Equal(chunks[0], []byte{1, 2, 3, 4}) {
				t.Errorf("chunk 0: got %v", chunks[0])
			}
			if !bytes.Equal(chunks[1], []byte{5, 6, 7, 8}) {
				t.Errorf("chunk 1: got %v", chunks[1])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for chunks, got %d", len(chunks))
		case <-time.After(time.Millisecond):
		}
	}

	// The trailing 2 bytes are below a full chunk and must stay queued.
	time.Sleep(30 * time.Millisecond)
	if got := p.Buffered(); got != 2 {
		t.Errorf("got %d buffered bytes, want 2", got)
	}
	for _, c := range rec.snapshot() {
		if len(c) != 4 {
			t.Errorf("got chunk of %d bytes, want 4", len(c))
		}
	}
}

func TestImmediateWritesThrough(t *testing.T) {
	rec := &chunkRecorder{}
	p := New(Config{Policy: PolicyImmediate}, rec.write)
	defer p.Close()

	p.Push([]byte{1, 2, 3})
	p.Push([]byte{4, 5})

	chunks := rec.snapshot()
	if len(chunks) != 2 {
		t.Fatalf("got %d writes, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[0], []byte{1, 2, 3}) || !bytes.Equal(chunks[1], []byte{4, 5}) {
		t.Errorf("got %v", chunks)
	}
	if p.Buffered() != 0 {
		t.Errorf("immediate policy should not buffer, got %d", p.Buffered())
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	p := New(Config{
		Policy:     PolicyPaced,
		ChunkBytes: 1024,
		Interval:   time.Hour,
	}, func([]byte) {})
	defer p.Close()

	p.Push(make([]byte, 512))
	if p.Buffered() != 512 {
		t.Fatalf("got %d buffered, want 512", p.Buffered())
	}
	p.Clear()
	if p.Buffered() != 0 {
		t.Errorf("got %d buffered after Clear, want 0", p.Buffered())
	}
}

func TestCloseStopsEmission(t *testing.T) {
	rec := &chunkRecorder{}
	p := New(Config{
		Policy:     PolicyPaced,
		ChunkBytes: 2,
		Interval:   2 * time.Millisecond,
	}, rec.write)

	p.Push([]byte{1, 2, 3, 4})
	p.Close()
	n := len(rec.snapshot())

	p.Push([]byte{5, 6})
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.snapshot()); got != n {
		t.Errorf("writes after Close: got %d, had %d at close", got, n)
	}
	if p.Buffered() != 0 {
		t.Errorf("queue not drained on Close")
	}

	// Close twice is fine.
	p.Close()
}
