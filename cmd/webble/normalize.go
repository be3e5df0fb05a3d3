package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/webble/internal/device"
)

// normalizeCmd represents the normalize command
var normalizeCmd = &cobra.Command{
	Use:   "normalize <identifier>...",
	Short: "Print the canonical UUID of service or characteristic identifiers",
	Long: `Normalizes identifiers the way the bridge does before talking to the
native host: aliases (heart_rate), hex short codes (180d, 0x2A37) and full
UUIDs in any case, with or without braces.

Examples:
  webble normalize heart_rate 0x2a37
  webble normalize --wire {0000180F-0000-1000-8000-00805F9B34FB}`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNormalize,
}

var normalizeWire bool

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeWire, "wire", false, "Print the brace-wrapped form sent to the native host")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, arg := range args {
		canonical, err := device.NormalizeUUID(arg)
		if err != nil {
			_ = w.Flush()
			return fmt.Errorf("%s: %w", arg, err)
		}

		out := canonical
		if normalizeWire {
			out = device.BraceUUID(canonical)
		}

		name := device.KnownName(canonical)
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", arg, out, name)
	}
	return w.Flush()
}
