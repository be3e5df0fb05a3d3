//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/channel"
)

// Command is a command received by the fake native host.
type Command struct {
	Cmd    string
	ID     uint64
	Params map[string]json.RawMessage
	Raw    json.RawMessage
}

// Param decodes parameter key into v.
func (c Command) Param(key string, v any) error {
	return json.Unmarshal(c.Params[key], v)
}

// Reply is what a handler answers with. Skip suppresses the response.
type Reply struct {
	Result any
	Error  any
	Skip   bool
}

// FakeNativeHost is a scriptable native host attached to a Stream through
// an in-process pipe. Commands without a handler are recorded but not
// answered.
type FakeNativeHost struct {
	t    testing.TB
	peer *channel.Peer

	mu       sync.Mutex
	handlers map[string]func(Command) Reply
	received []Command

	commands chan Command
	out      chan any
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewFakeNativeHost creates a host and the Stream connected to it. Both are
// closed when the test ends.
func NewFakeNativeHost(t testing.TB, logger *logrus.Logger) (*FakeNativeHost, *channel.Stream) {
	stream, peer := channel.Pipe(context.Background(), logger)

	h := &FakeNativeHost{
		t:        t,
		peer:     peer,
		handlers: make(map[string]func(Command) Reply),
		commands: make(chan Command, 1024),
		out:      make(chan any, 1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go h.readLoop()
	go h.writeLoop()

	t.Cleanup(func() {
		_ = stream.Close()
		h.Disconnect()
	})
	return h, stream
}

// On installs the handler for cmd.
func (h *FakeNativeHost) On(cmd string, fn func(Command) Reply) *FakeNativeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[cmd] = fn
	return h
}

// Respond answers every cmd with result.
func (h *FakeNativeHost) Respond(cmd string, result any) *FakeNativeHost {
	return h.On(cmd, func(Command) Reply { return Reply{Result: result} })
}

// Fail answers every cmd with errPayload as the error.
func (h *FakeNativeHost) Fail(cmd string, errPayload any) *FakeNativeHost {
	return h.On(cmd, func(Command) Reply { return Reply{Error: errPayload} })
}

// Reply sends a response for id.
func (h *FakeNativeHost) Reply(id uint64, result any) {
	h.Push(map[string]any{"_type": channel.TypeResponse, "_id": id, "result": result})
}

// ReplyError sends an error response for id.
func (h *FakeNativeHost) ReplyError(id uint64, errPayload any) {
	h.Push(map[string]any{"_type": channel.TypeResponse, "_id": id, "error": errPayload})
}

// Push sends an arbitrary message. Messages are written in call order.
func (h *FakeNativeHost) Push(msg any) {
	select {
	case h.out <- msg:
	case <-h.done:
	}
}

// PushScanResult sends a scan-result push.
func (h *FakeNativeHost) PushScanResult(address, name string, rssi int, services ...string) {
	if services == nil {
		services = []string{}
	}
	h.Push(map[string]any{
		"_type":            channel.TypeScanResult,
		"bluetoothAddress": address,
		"rssi":             rssi,
		"localName":        name,
		"serviceUuids":     services,
	})
}

// PushNotification sends a value-changed push for subscriptionID.
func (h *FakeNativeHost) PushNotification(subscriptionID any, value []int) {
	h.Push(map[string]any{
		"_type":          channel.TypeValueChanged,
		"subscriptionId": subscriptionID,
		"value":          value,
	})
}

// Next waits for the next received command.
func (h *FakeNativeHost) Next(timeout time.Duration) (Command, bool) {
	select {
	case cmd := <-h.commands:
		return cmd, true
	case <-time.After(timeout):
		return Command{}, false
	}
}

// Expect waits for the next command and fails the test unless it is cmd.
func (h *FakeNativeHost) Expect(cmd string) Command {
	h.t.Helper()
	got, ok := h.Next(2 * time.Second)
	if !ok {
		h.t.Fatalf("timed out waiting for native command %q", cmd)
	}
	if got.Cmd != cmd {
		h.t.Fatalf("expected native command %q, got %q (%s)", cmd, got.Cmd, got.Raw)
	}
	return got
}

// Received returns all commands received so far.
func (h *FakeNativeHost) Received() []Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Command(nil), h.received...)
}

// Count returns how many times cmd was received.
func (h *FakeNativeHost) Count(cmd string) int {
	n := 0
	for _, c := range h.Received() {
		if c.Cmd == cmd {
			n++
		}
	}
	return n
}

// Disconnect writes out queued messages and closes the host side of the
// pipe.
func (h *FakeNativeHost) Disconnect() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *FakeNativeHost) readLoop() {
	for {
		data, err := h.peer.ReadMessage()
		if err != nil {
			return
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			h.t.Errorf("fake native host received malformed message: %v", err)
			continue
		}

		cmd := Command{Params: make(map[string]json.RawMessage), Raw: data}
		_ = json.Unmarshal(fields["cmd"], &cmd.Cmd)
		_ = json.Unmarshal(fields["_id"], &cmd.ID)
		for k, v := range fields {
			if !channel.IsReserved(k) {
				cmd.Params[k] = v
			}
		}

		h.mu.Lock()
		h.received = append(h.received, cmd)
		handler := h.handlers[cmd.Cmd]
		h.mu.Unlock()

		if handler != nil {
			if reply := handler(cmd); !reply.Skip {
				if reply.Error != nil {
					h.ReplyError(cmd.ID, reply.Error)
				} else {
					h.Reply(cmd.ID, reply.Result)
				}
			}
		}

		select {
		case h.commands <- cmd:
		default:
		}
	}
}

func (h *FakeNativeHost) writeLoop() {
	defer close(h.done)
	defer func() { _ = h.peer.Close() }()

	for {
		select {
		case msg := <-h.out:
			if err := h.peer.WriteMessage(msg); err != nil {
				return
			}
		case <-h.stop:
			for {
				select {
				case msg := <-h.out:
					if err := h.peer.WriteMessage(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
