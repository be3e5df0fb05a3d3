package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/srg/webble/internal/device"
)

// Command-level errors
var (
	// ErrNativeHostExited indicates the native host went away while serving.
	ErrNativeHostExited = errors.New("native host exited")
)

// FormatUserError turns err into a message for the terminal.
func FormatUserError(err error) string {
	var nerr *device.NativeError
	switch {
	case errors.As(err, &nerr):
		return fmt.Sprintf("native host rejected %s: %s", nerr.Command, nerr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the native host"
	case errors.Is(err, device.ErrChannelClosed):
		return "native host is not connected: " + err.Error()
	default:
		return err.Error()
	}
}

func printUserError(w io.Writer, err error) {
	prefix := color.New(color.FgRed, color.Bold).Sprint("ERROR:")
	_, _ = fmt.Fprintf(w, "%s %s\n", prefix, FormatUserError(err))
}
