package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/cgmlink/internal/codec"
	"github.com/srg/cgmlink/internal/device"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/pairing"
	"github.com/srg/cgmlink/internal/registry"
	"github.com/srg/cgmlink/pkg/config"
	"github.com/srg/cgmlink/scanner"
	"golang.org/x/sync/errgroup"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Authenticate with a sensor and request its glucose history",
	Long: `Connects to the sensor described by an identity file, runs the authentication
handshake and, when the sensor asks for it, requests the most recent history records.

The sensor is dialed at the identity address unless --address is given. With --scan the
sensor is located first by the address embedded in its advertisements.

With --listen the connection is kept open and every glucose notification is printed as hex.`,
	Args: cobra.NoArgs,
	RunE: runPair,
}

var (
	pairIdentity       string
	pairAddress        string
	pairScan           bool
	pairLayout         string
	pairLegacyCommand  bool
	pairSyncSize       int
	pairAttempts       int
	pairRetryInterval  time.Duration
	pairStepTimeout    time.Duration
	pairConnectTimeout time.Duration
	pairListen         time.Duration
	pairVerbose        bool
)

// newDevice creates the peripheral to dial. Tests replace it.
var newDevice = func(address string, logger *logrus.Logger) device.Device {
	return goble.NewBLEDevice(address, logger)
}

func init() {
	pairCmd.Flags().StringVarP(&pairIdentity, "identity", "i", "", "Sensor identity file (YAML)")
	pairCmd.Flags().StringVarP(&pairAddress, "address", "a", "", "BLE address to dial instead of the identity address")
	pairCmd.Flags().BoolVar(&pairScan, "scan", false, "Find the sensor by scanning advertisements before dialing")
	pairCmd.Flags().StringVar(&pairLayout, "layout", "fixed28", "Peer key layout in auth-device (fixed28, length-dependent, full)")
	pairCmd.Flags().BoolVar(&pairLegacyCommand, "legacy-command", false, "Decode convert-cmd hex text as a decimal number")
	pairCmd.Flags().IntVar(&pairSyncSize, "sync-size", pairing.DefaultSyncSize, "Number of history records to request")
	pairCmd.Flags().IntVar(&pairAttempts, "attempts", 3, "Maximum pairing attempts")
	pairCmd.Flags().DurationVar(&pairRetryInterval, "retry-interval", time.Second, "Initial wait between attempts")
	pairCmd.Flags().DurationVar(&pairStepTimeout, "step-timeout", pairing.DefaultStepTimeout, "Timeout for each handshake step (0 disables)")
	pairCmd.Flags().DurationVar(&pairConnectTimeout, "connect-timeout", goble.DefaultConnectTimeout, "Connection timeout")
	pairCmd.Flags().DurationVar(&pairListen, "listen", 0, "Keep the link open and print notifications for this long")
	pairCmd.Flags().BoolVar(&pairVerbose, "verbose", false, "Verbose output")
	_ = pairCmd.MarkFlagRequired("identity")
}

// applyPairFlags overrides config values with flags set on the command line.
func applyPairFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("layout") {
		cfg.PeerKeyLayout = pairLayout
	}
	if flags.Changed("legacy-command") {
		cfg.LegacyCommand = pairLegacyCommand
	}
	if flags.Changed("sync-size") {
		cfg.SyncSize = pairSyncSize
	}
	if flags.Changed("attempts") {
		cfg.Retry.MaxAttempts = pairAttempts
	}
	if flags.Changed("retry-interval") {
		cfg.Retry.InitialInterval = pairRetryInterval
	}
	if flags.Changed("step-timeout") {
		cfg.StepTimeout = pairStepTimeout
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = pairConnectTimeout
	}
}

// pairSession is a paired link kept open for listening.
type pairSession struct {
	dev    device.Device
	runner *pairing.Runner
	logger *logrus.Logger
}

func (s *pairSession) close() {
	if s == nil {
		return
	}
	if err := s.runner.Close(); err != nil {
		s.logger.WithError(err).Warn("failed to stop notifications")
	}
	if err := s.dev.Disconnect(); err != nil {
		s.logger.WithError(err).Warn("failed to disconnect")
	}
}

func runPair(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyPairFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	id, err := identity.Load(pairIdentity)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sess *pairSession
	outcome, err := pairing.Retry(ctx, cfg.RetryPolicy(), logger, func(ctx context.Context, attempt int) (pairing.Outcome, error) {
		s, o, err := pairOnce(ctx, cmd, cfg, id, logger, attempt)
		sess = s
		return o, err
	})
	defer sess.close()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printOutcome(out, id, outcome)

	if sess == nil || pairListen <= 0 {
		return nil
	}
	return listen(ctx, out, sess, pairListen)
}

// pairOnce dials the sensor and runs one handshake. The session is returned only on Synced.
func pairOnce(ctx context.Context, cmd *cobra.Command, cfg *config.Config, id *identity.Identity, logger *logrus.Logger, attempt int) (*pairSession, pairing.Outcome, error) {
	address, err := resolveAddress(ctx, cfg, id, logger)
	if err != nil {
		return nil, pairing.Outcome{}, err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Pairing with %s (attempt %d)", address, attempt), "Connecting")
	progress.Start()
	defer progress.Stop()

	dev := newDevice(address, logger)
	if err := dev.Connect(ctx, &device.ConnectOptions{ConnectTimeout: cfg.ConnectTimeout}); err != nil {
		return nil, pairing.Outcome{}, err
	}

	conn := dev.GetConnection()
	reg := registry.New()
	if n, err := reg.Populate(conn); err != nil {
		logger.WithError(err).Warn("CGM service not found")
	} else if missing := reg.Missing(); len(missing) > 0 {
		logger.WithFields(logrus.Fields{
			"registered": n,
			"missing":    missing,
		}).Warn("Sensor does not expose every protocol role")
	}

	setPhase := progress.Callback()
	opts := cfg.MachineOptions(logger)
	opts.OnStateChanged = func(_, to pairing.State) { setPhase(to.String()) }

	runner := pairing.NewRunner(id, reg, conn, cfg.RunnerConfig(), opts)
	outcome, err := runner.Run(ctx)
	if err != nil || !outcome.Success() {
		(&pairSession{dev: dev, runner: runner, logger: logger}).close()
		return nil, outcome, err
	}
	return &pairSession{dev: dev, runner: runner, logger: logger}, outcome, nil
}

// resolveAddress picks the address to dial: --address, a scan match, or the identity address.
func resolveAddress(ctx context.Context, cfg *config.Config, id *identity.Identity, logger *logrus.Logger) (string, error) {
	if pairAddress != "" {
		return pairAddress, nil
	}
	if !pairScan {
		return id.MAC(), nil
	}

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return "", err
	}
	dev, err := s.Find(ctx, id, cfg.ScanTimeout)
	if err != nil {
		return "", err
	}
	return dev.Address(), nil
}

func printOutcome(out io.Writer, id *identity.Identity, o pairing.Outcome) {
	if o.Success() {
		color.New(color.FgGreen).Fprintf(out, "Paired with %s\n", id.MAC())
		fmt.Fprintf(out, "  history request: %s (payload %s)\n", o.Window, codec.BytesToHex(o.Window.Payload()))
		return
	}
	color.New(color.FgYellow).Fprintf(out, "Authenticated with %s, sensor sent command %d: no history requested\n", id.MAC(), o.Command)
}

// listen prints notifications until d elapses, ctx is cancelled or the link drops.
func listen(ctx context.Context, out io.Writer, sess *pairSession, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	disconnected := sess.dev.GetConnection().Disconnected()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-disconnected:
			return ErrConnectionLost
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rec, ok := <-sess.runner.Records():
				if !ok {
					return nil
				}
				fmt.Fprintf(out, "%-15s seq=%-4d %s\n", rec.Role, rec.Seq, codec.BytesToHex(rec.Data))
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
