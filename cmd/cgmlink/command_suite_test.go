package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/cgmlink/internal/testutils"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestSensorMAC      = "C0:FF:EE:01:02:03"
)

// CommandTestSuite extends MockBLEPeripheralSuite with command testing utilities.
// All cmd/cgmlink test suites should embed this instead of MockBLEPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockBLEPeripheralSuite
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockBLEPeripheralSuite.SetupSuite()
	color.NoColor = true
}

// ExecuteCommand runs the root command with args and returns stdout and stderr separately.
// Flags are reset first, cobra keeps their values between executions.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	resetFlags(rootCmd)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// WriteFile writes content to name in a per-test temp dir and returns the path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
