package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Peer is the far end of an in-process channel created by Pipe. It plays the
// native host: it reads the frames the Stream sends and writes frames the
// Stream receives.
type Peer struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu sync.Mutex
}

// Pipe returns a Stream connected to an in-process Peer. Writes on either side
// block until the other side reads them.
func Pipe(ctx context.Context, logger *logrus.Logger) (*Stream, *Peer) {
	toStreamR, toStreamW := io.Pipe()
	toPeerR, toPeerW := io.Pipe()

	peer := &Peer{r: toPeerR, w: toStreamW}
	closer := closerFunc(func() error {
		return errors.Join(
			toStreamR.CloseWithError(ErrClosed),
			toPeerW.Close(),
		)
	})
	return NewStream(ctx, toStreamR, toPeerW, closer, logger), peer
}

// ReadMessage returns the next raw frame sent by the Stream.
func (p *Peer) ReadMessage() ([]byte, error) {
	return ReadFrame(p.r, 0)
}

// ReadJSON decodes the next frame into v.
func (p *Peer) ReadJSON(v any) error {
	data, err := p.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteMessage sends v to the Stream as one frame. Raw byte slices and
// json.RawMessage values are sent as is.
func (p *Peer) WriteMessage(v any) error {
	var data []byte
	switch m := v.(type) {
	case []byte:
		data = m
	case json.RawMessage:
		data = m
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return WriteFrame(p.w, data)
}

// Close disconnects the peer. The Stream observes io.EOF.
func (p *Peer) Close() error {
	return errors.Join(p.w.Close(), p.r.Close())
}
