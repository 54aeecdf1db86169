package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/inspector"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Report which protocol characteristics a sensor exposes",
	Long: `Connects to a sensor by address, discovers its profile and maps the CGM service
characteristics onto the pairing protocol roles. Missing roles are what makes pairing
fail with "endpoint not found".`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectConnectTimeout time.Duration
	inspectJSON           bool
	inspectVerbose        bool
)

func init() {
	inspectCmd.Flags().DurationVar(&inspectConnectTimeout, "connect-timeout", goble.DefaultConnectTimeout, "Connection timeout")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().BoolVar(&inspectVerbose, "verbose", false, "Verbose output")
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout := cfg.ConnectTimeout
	if cmd.Flags().Changed("connect-timeout") {
		timeout = inspectConnectTimeout
	}

	cmd.SilenceUsage = true

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting sensor %s", address), "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := &inspector.InspectOptions{ConnectTimeout: timeout}
	report, err := inspector.Inspect(cmd.Context(), address, opts, logger, progress.Callback())
	if err != nil {
		return err
	}

	if inspectJSON || cfg.OutputFormat == "json" {
		return report.WriteJSON(cmd.OutOrStdout())
	}
	return report.WriteText(cmd.OutOrStdout())
}
