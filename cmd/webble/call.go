package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/webble/internal/bridge"
)

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <command> [arg...]",
	Short: "Run a single command against the native host",
	Long: `Launches the native host, runs one command and prints its result as JSON.

Each argument is taken as JSON when it parses as JSON and as a string
otherwise, so "180d" and heart_rate are strings while 6157 is a number.

Examples:
  # Find a heart rate monitor
  webble call requestDevice '{"filters": [{"services": ["heart_rate"]}]}'

  # Read the battery level of a connected device
  webble call readValue gatt-1 battery_service battery_level

  # Subscribe and print notifications until interrupted
  webble call startNotifications gatt-1 heart_rate heart_rate_measurement --follow`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

var (
	callTimeout time.Duration
	callFollow  bool
	callFor     time.Duration
	callVerbose bool
)

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Command timeout")
	callCmd.Flags().BoolVar(&callFollow, "follow", false, "Keep running and print notifications after startNotifications")
	callCmd.Flags().DurationVar(&callFor, "for", 0, "With --follow, stop after this long; 0 runs until interrupted")
	callCmd.Flags().BoolVar(&callVerbose, "verbose", false, "Enable debug logging")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return err
	}

	env, err := buildEnvelope(args[0], args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := cmd.OutOrStdout()
	caller := &printCaller{w: out}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	resp := st.dispatcher.Handle(callCtx, caller, env)
	cancel()
	if resp.Err != nil {
		return resp.Err
	}

	if err := caller.printResult(resp.Result); err != nil {
		return err
	}

	if !callFollow || env.Command != "startNotifications" {
		return nil
	}
	return follow(ctx, st, callFor)
}

// buildEnvelope turns CLI arguments into a command envelope.
func buildEnvelope(command string, args []string) (bridge.Envelope, error) {
	items := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		if json.Valid([]byte(arg)) {
			items = append(items, json.RawMessage(arg))
			continue
		}
		quoted, err := json.Marshal(arg)
		if err != nil {
			return bridge.Envelope{}, err
		}
		items = append(items, quoted)
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return bridge.Envelope{}, err
	}
	return bridge.Envelope{Command: command, Args: raw}, nil
}

// follow waits for notifications until ctx is done, the native host goes
// away or d elapses.
func follow(ctx context.Context, st *stack, d time.Duration) error {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-st.bridge.Done():
		return st.exitError()
	}
}

// printCaller writes the command result to w, then routed notifications one
// JSON document per line. Notifications arriving before the result is
// printed are held back.
type printCaller struct {
	mu      sync.Mutex
	w       io.Writer
	printed bool
	held    []json.RawMessage
}

func (c *printCaller) ID() string { return "cli" }

func (c *printCaller) Notify(payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.printed {
		c.held = append(c.held, append(json.RawMessage(nil), payload...))
		return nil
	}
	return writeJSON(c.w, payload, false)
}

// printResult writes v indented and releases any held notifications.
func (c *printCaller) printResult(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeJSON(c.w, v, true); err != nil {
		return err
	}
	c.printed = true
	for _, payload := range c.held {
		if err := writeJSON(c.w, payload, false); err != nil {
			return err
		}
	}
	c.held = nil
	return nil
}

func writeJSON(w io.Writer, v any, indent bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var buf bytes.Buffer
	if indent {
		err = json.Indent(&buf, data, "", "  ")
	} else {
		err = json.Compact(&buf, data)
	}
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
