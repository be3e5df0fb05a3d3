//go:build test

package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const waitTimeout = 2 * time.Second

// BridgeSuite wires a full bridge stack against a fake native host.
type BridgeSuite struct {
	suite.Suite

	helper     *testutils.TestHelper
	host       *testutils.FakeNativeHost
	bridge     *Bridge
	router     *NotificationRouter
	discovery  *DiscoveryCoordinator
	cache      *CharacteristicCache
	api        *API
	dispatcher *Dispatcher
}

func (s *BridgeSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.connect(Options{FailPendingOnClose: true}, 0)
}

func (s *BridgeSuite) connect(opts Options, discoveryTimeout time.Duration) {
	logger := s.helper.Logger

	host, stream := testutils.NewFakeNativeHost(s.T(), logger)
	b := New(stream, opts, logger)

	s.router = NewNotificationRouter(logger, opts.Metrics)
	s.discovery = NewDiscoveryCoordinator(b, discoveryTimeout, logger, opts.Metrics)
	s.cache = NewCharacteristicCache(b, logger, opts.Metrics)

	b.Handle(channel.TypeValueChanged, s.router)
	b.Handle(channel.TypeScanResult, s.discovery)
	b.Start(context.Background())
	s.T().Cleanup(func() { _ = b.Close() })

	s.host = host
	s.bridge = b
	s.api = NewAPI(b, s.discovery, s.cache, s.router, logger)
	s.dispatcher = NewDispatcher(s.api, logger)
}

func (s *BridgeSuite) eventually(cond func() bool, msg string) {
	s.Require().True(testutils.Eventually(waitTimeout, cond), msg)
}

// fakeCaller records the notifications routed to it.
type fakeCaller struct {
	id string

	mu       sync.Mutex
	payloads []json.RawMessage
	fail     error
}

func newFakeCaller(id string) *fakeCaller {
	return &fakeCaller{id: id}
}

func (c *fakeCaller) ID() string { return c.id }

func (c *fakeCaller) Notify(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeCaller) Received() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.payloads...)
}

type asyncResult struct {
	value any
	err   error
}

// async runs fn in a goroutine and returns a channel with its outcome.
func async[T any](fn func() (T, error)) <-chan asyncResult {
	ch := make(chan asyncResult, 1)
	go func() {
		v, err := fn()
		ch <- asyncResult{value: v, err: err}
	}()
	return ch
}

func (s *BridgeSuite) await(ch <-chan asyncResult) asyncResult {
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		s.FailNow("operation did not complete")
		return asyncResult{}
	}
}

func (s *BridgeSuite) assertPending(ch <-chan asyncResult) {
	select {
	case res := <-ch:
		s.FailNowf("operation completed early", "value=%v err=%v", res.value, res.err)
	case <-time.After(50 * time.Millisecond):
	}
}
