// Package channel provides the duplex, message-oriented, order-preserving
// link to the native host.
//
// The link carries JSON objects framed the way browser native messaging frames
// them: a 32-bit length in native (little-endian) byte order followed by the
// UTF-8 JSON text. A Stream runs the framing over any reader/writer pair;
// ConnectNative launches the native host and attaches a Stream to its
// stdin/stdout; Pipe connects a Stream to an in-process Peer.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxInboundSize is the largest message accepted from the native host,
	// the same 1 MiB cap browsers apply to host-to-extension messages.
	MaxInboundSize = 1024 * 1024

	// MaxOutboundSize bounds a single outgoing message.
	MaxOutboundSize = 64 * 1024 * 1024
)

var (
	// ErrClosed is returned by Send after the channel has been closed or the
	// native host went away.
	ErrClosed = errors.New("channel closed")

	// ErrMessageTooLarge is returned for frames exceeding the size limits.
	ErrMessageTooLarge = errors.New("message too large")
)

// Channel is the single duplex link shared by all traffic.
//
// Receive delivers inbound messages in arrival order and is closed when the
// link goes down; Err then reports why (io.EOF for an orderly disconnect).
type Channel interface {
	Send(msg any) error
	Receive() <-chan Message
	Err() error
	Close() error
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(header[:])
	if maxSize > 0 && n > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, n, maxSize)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxOutboundSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMessageTooLarge, len(data), MaxOutboundSize)
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(data)))
	copy(frame[4:], data)
	_, err := w.Write(frame)
	return err
}
