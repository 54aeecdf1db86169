package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/keyderiv"
)

var deriveCmd = &cobra.Command{
	Use:   "derive <shared-secret-hex>",
	Short: "Derive the session key from an ECDH shared secret",
	Long: `Applies the session key extraction to a hex encoded ECDH shared secret.
Useful to compare a capture against what the sensor computed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDerive,
}

func runDerive(cmd *cobra.Command, args []string) error {
	secret, err := codec.HexToBytes(strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("invalid shared secret: %w", err)
	}
	if len(secret) == 0 {
		return fmt.Errorf("invalid shared secret: empty")
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), keyderiv.StrideExtract(codec.BytesToHex(secret)))
	return err
}
