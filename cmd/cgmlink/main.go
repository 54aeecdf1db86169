package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cgmlink",
	Short: "Continuous glucose monitor pairing client",
	Long: `Bluetooth Low Energy client for continuous glucose monitor sensors:

- Find a provisioned sensor by the address embedded in its advertisements
- Authenticate with the sensor's pre-shared secrets and agree on a session key
- Request the recent glucose history and print the raw records it sends
- Inspect which protocol characteristics a sensor exposes

A sensor identity is a YAML file with the sensor address and its secrets:

  address: C0:FF:EE:01:02:03
  auth_keys:
    - 00112233445566778899aabbccddeeff`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("cgmlink %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(deriveCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
