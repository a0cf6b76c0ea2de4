package procrun

import "sync"

// ringBuffer accumulates streamed output up to a byte ceiling, silently
// dropping the oldest bytes once the ceiling is exceeded. This bounds memory
// for processes that produce pathological output volumes.
type ringBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (b *ringBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if b.max > 0 && len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
		b.truncated = true
	}
}

func (b *ringBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *ringBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
