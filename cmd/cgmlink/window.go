package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/pairing"
)

var windowCmd = &cobra.Command{
	Use:   "window [count]",
	Short: "Show the history request sent for a record count",
	Long: `Prints the start offset, record count and request-by-count payload the client sends
after pairing. The count defaults to the configured sync size.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWindow,
}

func runWindow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	requested := cfg.SyncSize
	if len(args) == 1 {
		if requested, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid count %q: %w", args[0], err)
		}
	}

	w := pairing.Calculate(requested)
	if err := w.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "start:   %d\n", w.Start)
	fmt.Fprintf(out, "count:   %d\n", w.Count)
	fmt.Fprintf(out, "payload: %s\n", codec.BytesToHex(w.Payload()))
	return nil
}
