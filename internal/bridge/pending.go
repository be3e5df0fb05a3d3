package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/srg/webble/internal/device"
)

type reply struct {
	result json.RawMessage
	err    error
}

// PendingRequest is an outstanding command awaiting its native reply.
// It completes at most once.
type PendingRequest struct {
	ID      uint64
	Command string

	started time.Time
	settled atomic.Bool
	done    chan reply
}

func (r *PendingRequest) settle(res reply) bool {
	if !r.settled.CompareAndSwap(false, true) {
		return false
	}
	r.done <- res
	return true
}

// Wait blocks until the request completes or ctx ends.
func (r *PendingRequest) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-r.done:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingTable maps correlation ids to outstanding requests. Ids start at 0,
// increase by one per registration and are never reused.
type PendingTable struct {
	nextID  atomic.Uint64
	entries *hashmap.Map[uint64, *PendingRequest]

	closed   atomic.Bool
	closeMu  sync.Mutex
	closeErr error
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		entries: hashmap.New[uint64, *PendingRequest](),
	}
}

// Register allocates the next id and records a pending request for it. After
// FailAll has been called it fails with the error FailAll was given; the id
// is consumed either way.
func (t *PendingTable) Register(command string) (*PendingRequest, error) {
	id := t.nextID.Add(1) - 1
	req := &PendingRequest{
		ID:      id,
		Command: command,
		started: time.Now(),
		done:    make(chan reply, 1),
	}
	t.entries.Set(id, req)

	if t.closed.Load() {
		t.entries.Del(id)
		return nil, t.err()
	}
	return req, nil
}

// Complete resolves the request with the given id. It returns false when the
// id is not pending (unknown, already completed or removed).
func (t *PendingTable) Complete(id uint64, result json.RawMessage, err error) bool {
	req, ok := t.entries.Get(id)
	if !ok || !t.entries.Del(id) {
		return false
	}
	return req.settle(reply{result: result, err: err})
}

// Remove drops the request without completing it.
func (t *PendingTable) Remove(id uint64) bool {
	req, ok := t.entries.Get(id)
	if !ok || !t.entries.Del(id) {
		return false
	}
	req.settled.Store(true)
	return true
}

// FailAll completes every pending request with err and makes later
// registrations fail with it. It returns the number of requests failed.
func (t *PendingTable) FailAll(err error) int {
	t.closeMu.Lock()
	if t.closeErr == nil {
		t.closeErr = err
	}
	t.closeMu.Unlock()
	t.closed.Store(true)

	var ids []uint64
	t.entries.Range(func(id uint64, _ *PendingRequest) bool {
		ids = append(ids, id)
		return true
	})

	failed := 0
	for _, id := range ids {
		if t.Complete(id, nil, err) {
			failed++
		}
	}
	return failed
}

// Len returns the number of pending requests.
func (t *PendingTable) Len() int {
	return t.entries.Len()
}

// Peek returns the id the next registration will get.
func (t *PendingTable) Peek() uint64 {
	return t.nextID.Load()
}

func (t *PendingTable) err() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closeErr == nil {
		return device.ErrChannelClosed
	}
	return t.closeErr
}
