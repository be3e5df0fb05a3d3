package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/device"
	"github.com/srg/webble/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Param is a named field of an outgoing native command.
type Param struct {
	Key   string
	Value any
}

// Arg builds a Param.
func Arg(key string, value any) Param {
	return Param{Key: key, Value: value}
}

// Sender issues correlated commands to the native host.
type Sender interface {
	Send(ctx context.Context, cmd string, params ...Param) (json.RawMessage, error)
	Done() <-chan struct{}
}

// Sink consumes inbound messages of one type. Accept runs on the dispatcher
// goroutine and must not block on native replies.
type Sink interface {
	Accept(msg channel.Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg channel.Message)

func (f SinkFunc) Accept(msg channel.Message) { f(msg) }

// Options configure a Bridge.
type Options struct {
	// RequestTimeout bounds the wait for a native reply. Zero waits until
	// the reply arrives, the caller's context ends or the channel closes.
	RequestTimeout time.Duration

	// FailPendingOnClose fails all outstanding requests with
	// device.ErrChannelClosed when the channel goes down.
	FailPendingOnClose bool

	Metrics *Metrics
}

// Bridge owns the native channel. It tags outgoing commands with unique ids,
// correlates replies to their callers and fans pushes out to sinks by type.
type Bridge struct {
	ch      channel.Channel
	pending *PendingTable
	opts    Options
	logger  *logrus.Logger

	sinksMu sync.RWMutex
	sinks   map[string]Sink

	startOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// New creates a bridge over ch. Sinks should be registered before Start.
func New(ch channel.Channel, opts Options, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		ch:      ch,
		pending: NewPendingTable(),
		opts:    opts,
		logger:  logger,
		sinks:   make(map[string]Sink),
		done:    make(chan struct{}),
	}
}

// Handle registers the sink for inbound messages of msgType, replacing any
// previous one. Responses are always handled by the bridge itself.
func (b *Bridge) Handle(msgType string, sink Sink) {
	if msgType == channel.TypeResponse {
		panic("bridge: response messages are handled internally")
	}
	b.sinksMu.Lock()
	defer b.sinksMu.Unlock()
	b.sinks[msgType] = sink
}

// Start launches the dispatcher goroutine. It is safe to call more than once.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		groutine.GoSafe(ctx, "bridge-dispatcher", b.logger, b.run)
	})
}

// Send transmits cmd with the given params and waits for the correlated
// reply. The message is encoded with cmd and _id first; params named cmd or
// _id are ignored. Exactly one message is transmitted per call.
func (b *Bridge) Send(ctx context.Context, cmd string, params ...Param) (json.RawMessage, error) {
	select {
	case <-b.done:
		return nil, b.closedErr()
	default:
	}

	req, err := b.pending.Register(cmd)
	if err != nil {
		b.opts.Metrics.recordCommand(cmd, "closed", time.Now())
		return nil, err
	}
	b.opts.Metrics.setPending(b.pending.Len())

	msg := orderedmap.New[string, any]()
	msg.Set("cmd", cmd)
	msg.Set("_id", req.ID)
	for _, p := range params {
		if channel.IsReserved(p.Key) {
			b.logger.WithFields(logrus.Fields{
				"cmd":   cmd,
				"param": p.Key,
			}).Warn("Ignoring reserved parameter name")
			continue
		}
		msg.Set(p.Key, p.Value)
	}

	log := b.logger.WithFields(logrus.Fields{"cmd": cmd, "id": req.ID})
	log.Debug("Sending native command")

	if err := b.ch.Send(msg); err != nil {
		b.pending.Remove(req.ID)
		b.opts.Metrics.setPending(b.pending.Len())
		b.opts.Metrics.recordCommand(cmd, "transmit_error", req.started)
		log.WithError(err).Warn("Failed to transmit native command")
		if errors.Is(err, channel.ErrClosed) {
			return nil, fmt.Errorf("%w: %v", device.ErrChannelClosed, err)
		}
		return nil, fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	if b.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.RequestTimeout)
		defer cancel()
	}

	result, err := req.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		if !b.pending.Remove(req.ID) {
			// The reply won the race against cancellation.
			result, err = req.Wait(context.Background())
		} else {
			b.opts.Metrics.setPending(b.pending.Len())
			b.opts.Metrics.recordCommand(cmd, "canceled", req.started)
			log.WithError(err).Debug("Native command abandoned")
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
	}

	switch {
	case err == nil:
		b.opts.Metrics.recordCommand(cmd, "ok", req.started)
	case device.IsNativeError(err):
		b.opts.Metrics.recordCommand(cmd, "native_error", req.started)
	default:
		b.opts.Metrics.recordCommand(cmd, "closed", req.started)
	}
	return result, err
}

// Done is closed once the channel has gone down and the dispatcher stopped.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the reason the channel went down.
func (b *Bridge) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// PendingCount returns the number of commands awaiting a reply.
func (b *Bridge) PendingCount() int {
	return b.pending.Len()
}

// Close closes the native channel. The dispatcher drains and stops.
func (b *Bridge) Close() error {
	return b.ch.Close()
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	for msg := range b.ch.Receive() {
		b.dispatch(msg)
	}

	cause := b.ch.Err()
	b.errMu.Lock()
	b.err = cause
	b.errMu.Unlock()

	log := b.logger.WithField("pending", b.pending.Len())
	switch {
	case errors.Is(cause, channel.ErrClosed):
		log.Info("Native channel closed")
	case cause == nil || errors.Is(cause, io.EOF):
		log.Error("Disconnected from native host")
	default:
		log.WithError(cause).Error("Disconnected from native host")
	}

	if b.opts.FailPendingOnClose {
		if n := b.pending.FailAll(b.closedErr()); n > 0 {
			b.logger.WithField("count", n).Warn("Failed pending native commands")
		}
		b.opts.Metrics.setPending(b.pending.Len())
	}
}

func (b *Bridge) dispatch(msg channel.Message) {
	if msg.Type == channel.TypeResponse {
		b.complete(msg)
		return
	}

	b.sinksMu.RLock()
	sink, ok := b.sinks[msg.Type]
	b.sinksMu.RUnlock()

	if !ok {
		b.opts.Metrics.recordInbound(msg.Type, "dropped")
		b.logger.WithField("type", msg.Type).Warn("Dropping native message of unknown type")
		return
	}
	b.opts.Metrics.recordInbound(msg.Type, "delivered")
	sink.Accept(msg)
}

func (b *Bridge) complete(msg channel.Message) {
	if msg.ID == nil {
		b.opts.Metrics.recordInbound(msg.Type, "dropped")
		b.logger.Warn("Dropping native response without _id")
		return
	}

	var err error
	if msg.HasError() {
		err = &device.NativeError{Payload: msg.Error}
		if req, ok := b.pending.entries.Get(*msg.ID); ok {
			err = &device.NativeError{Command: req.Command, Payload: msg.Error}
		}
	}

	if !b.pending.Complete(*msg.ID, msg.Result, err) {
		b.opts.Metrics.recordInbound(msg.Type, "dropped")
		b.logger.WithField("id", *msg.ID).Debug("Dropping response for unknown request")
		return
	}
	b.opts.Metrics.recordInbound(msg.Type, "delivered")
	b.opts.Metrics.setPending(b.pending.Len())
}

func (b *Bridge) closedErr() error {
	if cause := b.Err(); cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, channel.ErrClosed) {
		return fmt.Errorf("%w: %v", device.ErrChannelClosed, cause)
	}
	return device.ErrChannelClosed
}
