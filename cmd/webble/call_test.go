//go:build test

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/webble/internal/device"
	"github.com/srg/webble/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CallTestSuite struct {
	CommandTestSuite
}

func (s *CallTestSuite) TestGattConnect() {
	s.Host.Respond("connect", "gatt-1")

	out, err := s.ExecuteCommand("call", "gattConnect", "AA:BB:CC:DD:EE:FF")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `"gatt-1"`)
	cmd := s.Host.Expect("connect")
	s.JSONEq(`"AABBCCDDEEFF"`, string(cmd.Params["address"]))
}

func (s *CallTestSuite) TestReadValuePrintsIndentedJSON() {
	s.Host.Respond("read", []int{87})

	out, err := s.ExecuteCommand("call", "readValue", "gatt-1", "battery_service", "battery_level")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, "[\n  87\n]")
	cmd := s.Host.Expect("read")
	s.JSONEq(`"{0000180f-0000-1000-8000-00805f9b34fb}"`, string(cmd.Params["service"]))
	s.JSONEq(`"{00002a19-0000-1000-8000-00805f9b34fb}"`, string(cmd.Params["characteristic"]))
}

func (s *CallTestSuite) TestNativeError() {
	s.Host.Fail("connect", "Device not found")

	_, err := s.ExecuteCommand("call", "gattConnect", "AA")
	s.Require().Error(err)
	s.True(device.IsNativeError(err))
	s.Equal("native host rejected connect: Device not found", FormatUserError(err))
}

func (s *CallTestSuite) TestUnknownCommand() {
	_, err := s.ExecuteCommand("call", "frobnicate")
	s.ErrorIs(err, device.ErrUnknownCommand)
	s.Empty(s.Host.Received())
}

func (s *CallTestSuite) TestTimeout() {
	_, err := s.ExecuteCommand("call", "readValue", "gatt-1", "180f", "2a19", "--timeout", "50ms")
	s.Require().Error(err)
	s.Equal("timed out waiting for the native host", FormatUserError(err))
}

func (s *CallTestSuite) TestFollowPrintsNotifications() {
	s.Host.On("subscribe", func(testutils.Command) testutils.Reply {
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.Host.PushNotification(5, []int{0, 72})
		}()
		return testutils.Reply{Result: 5}
	})

	out, err := s.ExecuteCommand("call", "startNotifications", "gatt-1", "heart_rate", "heart_rate_measurement",
		"--follow", "--for", "300ms")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out,
		"5\n"+`{"_type":"valueChangedNotification","subscriptionId":5,"value":[0,72]}`)
}

func (s *CallTestSuite) TestFollowStopsWhenNativeHostExits() {
	s.Host.On("subscribe", func(testutils.Command) testutils.Reply {
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.Host.Disconnect()
		}()
		return testutils.Reply{Result: 5}
	})

	_, err := s.ExecuteCommand("call", "startNotifications", "gatt-1", "180d", "2a37", "--follow")
	s.ErrorIs(err, ErrNativeHostExited)
}

func TestCallTestSuite(t *testing.T) {
	suite.Run(t, new(CallTestSuite))
}

func TestBuildEnvelope(t *testing.T) {
	env, err := buildEnvelope("writeValue", []string{"gatt-1", "180d", "6157", "[1,2]", `{"a":1}`, "true"})
	require.NoError(t, err)

	assert.Equal(t, "writeValue", env.Command)
	assert.Nil(t, env.ID)

	var args []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Args, &args))
	require.Len(t, args, 6)
	assert.JSONEq(t, `"gatt-1"`, string(args[0]))
	assert.JSONEq(t, `"180d"`, string(args[1]))
	assert.JSONEq(t, `6157`, string(args[2]))
	assert.JSONEq(t, `[1,2]`, string(args[3]))
	assert.JSONEq(t, `{"a":1}`, string(args[4]))
	assert.JSONEq(t, `true`, string(args[5]))

	empty, err := buildEnvelope("ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(empty.Args))
}

func TestPrintCaller_ResultComesFirst(t *testing.T) {
	var out bytes.Buffer
	caller := &printCaller{w: &out}

	require.NoError(t, caller.Notify(json.RawMessage(`{"subscriptionId": 5, "value": [1]}`)))
	assert.Empty(t, out.String(), "notifications wait for the result")

	require.NoError(t, caller.printResult(5))
	require.NoError(t, caller.Notify(json.RawMessage(`{"subscriptionId": 5, "value": [2]}`)))

	assert.Equal(t, "5\n"+`{"subscriptionId":5,"value":[1]}`+"\n"+`{"subscriptionId":5,"value":[2]}`+"\n", out.String())
}

func TestPrintCaller_ConcurrentNotifications(t *testing.T) {
	var out bytes.Buffer
	caller := &printCaller{w: &out}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, caller.Notify(json.RawMessage(fmt.Sprintf(`{"value":[%d]}`, i))))
		}(i)
	}
	require.NoError(t, caller.printResult(map[string]int{"subscriptionId": 5}))
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3+20)
	assert.Equal(t, "{", lines[0])
	assert.Equal(t, `  "subscriptionId": 5`, lines[1])
	assert.Equal(t, "}", lines[2])
	for _, line := range lines[3:] {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}
