package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/device"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for CGM sensors",
	Long: `Scan for Bluetooth Low Energy devices advertising the CGM service.

With --identity only the sensor whose advertisement carries the identity address is
listed. --all drops the service filter.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanIdentity string
	scanAll      bool
	scanJSON     bool
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanIdentity, "identity", "i", "", "Only list the sensor of this identity file")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every device, not only CGM sensors")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output as JSON")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Verbose output")
}

type scannedDevice struct {
	Address          string `json:"address"`
	Name             string `json:"name"`
	RSSI             int    `json:"rssi"`
	ManufacturerData string `json:"manufacturer_data,omitempty"`
	// SensorAddress is the address embedded in the manufacturer data, if any.
	SensorAddress string `json:"sensor_address,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	duration := cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		duration = scanDuration
	}

	var id *identity.Identity
	if scanIdentity != "" {
		if id, err = identity.Load(scanIdentity); err != nil {
			return err
		}
	}

	cmd.SilenceUsage = true

	opts := scanner.CGMServiceOptions(duration)
	if scanAll {
		opts.ServiceUUIDs = nil
	}
	opts.Identity = id

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for sensors", "Scanning", duration, "Processing results")
	progress.Start()
	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if scanJSON || cfg.OutputFormat == "json" {
		return writeDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return writeDevicesTable(cmd.OutOrStdout(), devices)
}

func toScanned(devices []*goble.BLEDevice) []scannedDevice {
	out := make([]scannedDevice, 0, len(devices))
	for _, d := range devices {
		sd := scannedDevice{
			Address:          d.Address(),
			Name:             d.Name(),
			RSSI:             d.RSSI(),
			ManufacturerData: codec.BytesToHex(d.ManufacturerData()),
		}
		if md, err := device.ParseManufacturerData(d.ManufacturerData()); err == nil {
			sd.SensorAddress = md.EmbeddedAddress()
		}
		out = append(out, sd)
	}
	return out
}

func writeDevicesJSON(w io.Writer, devices []*goble.BLEDevice) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toScanned(devices))
}

func writeDevicesTable(w io.Writer, devices []*goble.BLEDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No sensors found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tMANUFACTURER DATA")
	for _, d := range toScanned(devices) {
		name := d.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Address, name, d.RSSI, d.ManufacturerData)
	}
	return tw.Flush()
}
