package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/groutine"
)

const inboundQueueSize = 64

// Stream implements Channel over a framed reader/writer pair.
type Stream struct {
	r      io.Reader
	w      io.Writer
	closer io.Closer

	writeMu sync.Mutex
	in      chan Message
	stop    chan struct{}
	done    chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	closeErr  error

	logger *logrus.Logger
}

// NewStream starts reading frames from r. closer, if not nil, is called by
// Close to release the underlying transport.
func NewStream(ctx context.Context, r io.Reader, w io.Writer, closer io.Closer, logger *logrus.Logger) *Stream {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Stream{
		r:      r,
		w:      w,
		closer: closer,
		in:     make(chan Message, inboundQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}

	groutine.Go(ctx, "native-reader", s.readLoop)
	return s
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.in)
	defer close(s.done)

	for {
		data, err := ReadFrame(s.r, MaxInboundSize)
		if err != nil {
			s.setErr(err)
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			s.logger.WithError(err).WithField("size", len(data)).Warn("Dropping malformed native message")
			continue
		}

		select {
		case s.in <- msg:
		case <-s.stop:
			s.setErr(ErrClosed)
			return
		}
	}
}

// Send encodes msg as JSON and writes it as one frame. Writes are serialized.
func (s *Stream) Send(msg any) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-s.stop:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode native message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := WriteFrame(s.w, data); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if errors.Is(err, ErrMessageTooLarge) {
			return err
		}
		return fmt.Errorf("failed to write native message: %w", err)
	}
	return nil
}

// Receive returns the inbound message queue.
func (s *Stream) Receive() <-chan Message {
	return s.in
}

// Done is closed once the reader has stopped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the stream stopped, or nil while it is running.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops the reader and releases the transport.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
