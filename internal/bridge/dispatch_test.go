//go:build test

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/srg/webble/internal/device"
	"github.com/srg/webble/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func newEchoDispatcher(t *testing.T) (*Dispatcher, *int) {
	d := NewDispatcher(nil, testutils.NewTestHelper(t).Logger)
	calls := 0
	d.Register("echo", func(_ context.Context, _ Caller, args *Args) (any, error) {
		calls++
		var s string
		if err := args.Decode(0, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	d.Register("fail", func(context.Context, Caller, *Args) (any, error) {
		calls++
		return nil, errors.New("it broke")
	})
	return d, &calls
}

func TestDispatcher_EnvelopeValidation(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		expected string
	}{
		{name: "missing command", envelope: `{"args": []}`, expected: `{"error": "missing ` + "`command`" + `"}`},
		{name: "empty command", envelope: `{"id": 1, "command": "", "args": []}`, expected: `{"id": 1, "error": "missing ` + "`command`" + `"}`},
		{name: "missing args", envelope: `{"command": "echo"}`, expected: `{"error": "` + "`args`" + ` must be an array"}`},
		{name: "null args", envelope: `{"command": "echo", "args": null}`, expected: `{"error": "` + "`args`" + ` must be an array"}`},
		{name: "object args", envelope: `{"command": "echo", "args": {"0": "x"}}`, expected: `{"error": "` + "`args`" + ` must be an array"}`},
		{name: "unknown command", envelope: `{"id": "a", "command": "frobnicate", "args": []}`, expected: `{"id": "a", "error": "unknown command: frobnicate"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, calls := newEchoDispatcher(t)
			resp := d.HandleRaw(context.Background(), newFakeCaller("c"), []byte(tt.envelope))

			assert.Zero(t, *calls, "no handler runs for an invalid envelope")
			testutils.NewJSONAsserter(t).AssertValue(resp, tt.expected)
		})
	}
}

func TestDispatcher_ValidationErrorsAreTyped(t *testing.T) {
	d, _ := newEchoDispatcher(t)

	assert.ErrorIs(t, d.Handle(context.Background(), nil, Envelope{Args: json.RawMessage(`[]`)}).Err, device.ErrMissingCommand)
	assert.ErrorIs(t, d.Handle(context.Background(), nil, Envelope{Command: "echo"}).Err, device.ErrInvalidArgsShape)
	assert.ErrorIs(t, d.Handle(context.Background(), nil, Envelope{Command: "x", Args: json.RawMessage(`[]`)}).Err, device.ErrUnknownCommand)
	assert.ErrorIs(t, d.HandleRaw(context.Background(), nil, []byte(`[1,2]`)).Err, device.ErrInvalidArgument)
}

func TestDispatcher_ResultAndErrorAreExclusive(t *testing.T) {
	d, calls := newEchoDispatcher(t)
	ja := testutils.NewJSONAsserter(t)

	ok := d.HandleRaw(context.Background(), nil, []byte(`{"id": 4, "command": "echo", "args": ["hi"]}`))
	ja.AssertValue(ok, `{"id": 4, "result": "hi"}`)

	failed := d.HandleRaw(context.Background(), nil, []byte(`{"id": 5, "command": "fail", "args": []}`))
	ja.AssertValue(failed, `{"id": 5, "error": "it broke"}`)

	empty := d.HandleRaw(context.Background(), nil, []byte(`{"command": "echo", "args": []}`))
	ja.AssertValue(empty, `{"result": ""}`)

	assert.Equal(t, 3, *calls)
}

func TestArgs_Decode(t *testing.T) {
	args := &Args{items: []json.RawMessage{json.RawMessage(`"a"`), json.RawMessage(`null`), json.RawMessage(`{}`)}}

	var s string
	require.NoError(t, args.Decode(0, &s))
	assert.Equal(t, "a", s)

	s = "untouched"
	require.NoError(t, args.Decode(1, &s), "null leaves the target alone")
	require.NoError(t, args.Decode(9, &s), "missing leaves the target alone")
	assert.Equal(t, "untouched", s)

	assert.ErrorIs(t, args.Decode(2, &s), device.ErrInvalidArgument)

	var id device.Identifier
	assert.ErrorIs(t, (&Args{items: []json.RawMessage{json.RawMessage(`true`)}}).Decode(0, &id), device.ErrInvalidArgument)

	assert.Nil(t, args.Raw(5))
	assert.Equal(t, 3, args.Len())
}

type DispatcherTestSuite struct {
	BridgeSuite
}

func (s *DispatcherTestSuite) handle(envelope string) Response {
	return s.dispatcher.HandleRaw(context.Background(), newFakeCaller("tab-1"), []byte(envelope))
}

func (s *DispatcherTestSuite) TestCommands() {
	s.Equal([]string{
		"gattConnect",
		"gattDisconnect",
		"getCharacteristic",
		"getCharacteristics",
		"getPrimaryService",
		"getPrimaryServices",
		"readValue",
		"requestDevice",
		"startNotifications",
		"writeValue",
	}, s.dispatcher.Commands())
}

func (s *DispatcherTestSuite) TestGattConnect() {
	s.host.Respond("connect", "gatt-1")

	resp := s.handle(`{"id": 1, "command": "gattConnect", "args": ["AA:BB:CC:DD:EE:FF"]}`)
	testutils.NewJSONAsserter(s.T()).AssertValue(resp, `{"id": 1, "result": "gatt-1"}`)
}

func (s *DispatcherTestSuite) TestGattConnect_RequiresAddress() {
	resp := s.handle(`{"command": "gattConnect", "args": []}`)
	s.ErrorIs(resp.Err, device.ErrInvalidArgument)
	s.Empty(s.host.Received())
}

func (s *DispatcherTestSuite) TestRequestDevice_MissingFilters() {
	resp := s.handle(`{"command": "requestDevice", "args": [{}]}`)
	s.ErrorIs(resp.Err, device.ErrMissingFilters)
}

func (s *DispatcherTestSuite) TestReadValue_NumericIdentifiers() {
	s.host.Respond("read", []int{1})

	resp := s.handle(`{"command": "readValue", "args": ["gatt-1", 6159, "battery_level"]}`)
	s.Require().NoError(resp.Err)
	s.JSONEq(`"{0000180f-0000-1000-8000-00805f9b34fb}"`, string(s.host.Received()[0].Params["service"]))
}

func (s *DispatcherTestSuite) TestWriteValue_RejectsNonNumbers() {
	for _, args := range []string{
		`["gatt-1", "cycling_power", "0x2a66", ["a"]]`,
		`["gatt-1", "cycling_power", "0x2a66", [1.5]]`,
		`["gatt-1", "cycling_power", "0x2a66", "AQI="]`,
		`["gatt-1", "cycling_power", "0x2a66"]`,
	} {
		resp := s.handle(`{"command": "writeValue", "args": ` + args + `}`)
		s.ErrorIs(resp.Err, device.ErrInvalidArgument, args)
	}
	s.Empty(s.host.Received())
}

func (s *DispatcherTestSuite) TestGetCharacteristic_NotFoundMessage() {
	s.host.Respond("characteristics", []any{})

	resp := s.handle(`{"command": "getCharacteristic", "args": ["gatt-1", "heart_rate", "battery_level"]}`)
	s.ErrorIs(resp.Err, device.ErrCharacteristicNotFound)
	testutils.NewJSONAsserter(s.T()).AssertValue(resp,
		`{"error": "characteristic battery_level not found in service heart_rate"}`)
}

func (s *DispatcherTestSuite) TestStartNotifications_UsesCaller() {
	s.host.Respond("subscribe", 3)
	caller := newFakeCaller("tab-9")

	resp := s.dispatcher.HandleRaw(context.Background(), caller,
		[]byte(`{"command": "startNotifications", "args": ["gatt-1", "heart_rate", "heart_rate_measurement"]}`))
	s.Require().NoError(resp.Err)

	owner, ok := s.router.Owner("3")
	s.Require().True(ok)
	s.Equal("tab-9", owner.ID())
}

func (s *DispatcherTestSuite) TestNativeErrorText() {
	s.host.Fail("connect", "Device not found")

	resp := s.handle(`{"command": "gattConnect", "args": ["AA"]}`)
	testutils.NewJSONAsserter(s.T()).AssertValue(resp, `{"error": "Device not found"}`)
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}
