package tts

import "sync"

// tailBuffer keeps only the last limit bytes written to it. Engines tend to
// print progress bars to stderr, and only the end is useful in a failure.
type tailBuffer struct {
	mu        sync.Mutex
	data      []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit, data: make([]byte, 0, limit)}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := len(p)

	if len(p) >= b.limit {
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		b.truncated = true

		return written, nil
	}

	overflow := len(b.data) + len(p) - b.limit
	if overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
		b.truncated = true
	}

	b.data = append(b.data, p...)

	return written, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return "..." + string(b.data)
	}

	return string(b.data)
}
