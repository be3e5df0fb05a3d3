package channel

import (
	"bytes"
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// defaultStderrTail is how much of the native host's stderr is kept for
// diagnostics once it exits.
const defaultStderrTail = 4096

// stderrTail keeps the last bytes written to it, discarding the oldest.
type stderrTail struct {
	mu      sync.Mutex
	buf     *ringbuffer.RingBuffer
	scratch []byte
}

func newStderrTail(size int) *stderrTail {
	return &stderrTail{
		buf:     ringbuffer.New(size),
		scratch: make([]byte, size),
	}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if size := t.buf.Capacity(); len(p) > size {
		p = p[len(p)-size:]
	}
	if free := t.buf.Free(); free < len(p) {
		if _, err := t.buf.Read(t.scratch[:len(p)-free]); err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
	}
	if _, err := t.buf.Write(p); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	return n, nil
}

// String returns the retained output with surrounding whitespace trimmed.
func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.buf.Length()
	if n == 0 {
		return ""
	}
	data := make([]byte, n)
	if _, err := t.buf.Read(data); err != nil {
		return ""
	}
	// Put it back so repeated calls see the same content.
	_, _ = t.buf.Write(data)
	return string(bytes.TrimSpace(data))
}
