package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/cgmlink/pkg/config"
)

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
