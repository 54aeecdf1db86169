package pairing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/groutine"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/registry"
	"github.com/srg/cgmlink/internal/ringchan"
	"go.uber.org/atomic"
)

const (
	DefaultStepTimeout  = 10 * time.Second
	DefaultOpTimeout    = 5 * time.Second
	DefaultRecordBuffer = 256
)

// Record is one raw notification received after the handshake.
type Record struct {
	Role registry.Role
	Data []byte
	Seq  uint64
	TsUs int64
}

// RunnerConfig bounds the runner's waits and buffers.
type RunnerConfig struct {
	// StepTimeout bounds the wait for each completion. Zero disables it.
	StepTimeout  time.Duration
	OpTimeout    time.Duration
	RecordBuffer int
}

// Stats are cumulative runner counters.
type Stats struct {
	OpsIssued     uint64
	Completions   uint64
	Notifications uint64
	Overwritten   int64
}

// Runner owns the delivery queue of one connection. It adapts blocking
// characteristic calls into completions and feeds them to its Machine one at a time.
type Runner struct {
	machine *Machine
	reg     *registry.Registry
	conn    device.Connection
	cfg     RunnerConfig
	logger  *logrus.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan Completion
	outcomes chan Outcome
	records  *ringchan.RingChannel[Record]

	opsIssued     atomic.Uint64
	completions   atomic.Uint64
	notifications atomic.Uint64
}

// NewRunner wires a Machine to conn through reg. opts.OnOutcome is chained, not replaced.
func NewRunner(id *identity.Identity, reg *registry.Registry, conn device.Connection, cfg RunnerConfig, opts Options) *Runner {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.RecordBuffer <= 0 {
		cfg.RecordBuffer = DefaultRecordBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		reg:      reg,
		conn:     conn,
		cfg:      cfg,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Completion, 4),
		outcomes: make(chan Outcome, 1),
		records:  ringchan.New[Record](cfg.RecordBuffer),
	}

	user := opts.OnOutcome
	opts.OnOutcome = func(o Outcome) {
		select {
		case r.outcomes <- o:
		default:
			r.logger.WithField("state", o.State).Warn("Dropping outcome, previous one not consumed")
		}
		if user != nil {
			user(o)
		}
	}

	r.machine = NewMachine(id, reg, r, opts)
	return r
}

// Machine returns the state machine driven by the runner.
func (r *Runner) Machine() *Machine {
	return r.machine
}

// Records delivers notifications received after Synced. Closed by Close.
func (r *Runner) Records() <-chan Record {
	return r.records.C()
}

func (r *Runner) Stats() Stats {
	return Stats{
		OpsIssued:     r.opsIssued.Load(),
		Completions:   r.completions.Load(),
		Notifications: r.notifications.Load(),
		Overwritten:   r.records.Metrics().Overwritten,
	}
}

// Run starts the handshake and processes completions until it syncs or aborts.
// The returned error is a *Error on abort, or ctx.Err() on cancellation.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	if err := r.machine.Start(); err != nil {
		o := r.drainOutcome()
		return o, err
	}

	var (
		timer    *time.Timer
		timerC   <-chan time.Time
		armedSeq uint64
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	rearm := func() {
		seq, ok := r.machine.Pending()
		if !ok || r.cfg.StepTimeout <= 0 {
			stop()
			return
		}
		if timerC != nil && seq == armedSeq {
			return
		}
		stop()
		armedSeq = seq
		timer = time.NewTimer(r.cfg.StepTimeout)
		timerC = timer.C
	}
	defer stop()

	var disconnected <-chan struct{}
	if r.conn != nil {
		disconnected = r.conn.Disconnected()
	}

	rearm()
	for {
		select {
		case o := <-r.outcomes:
			if o.Err != nil {
				return o, o.Err
			}
			return o, nil

		case c := <-r.events:
			r.completions.Inc()
			r.machine.Handle(c)
			rearm()

		case <-timerC:
			timerC = nil
			r.machine.Expire(armedSeq)

		case <-disconnected:
			disconnected = nil
			r.machine.Disconnect()

		case <-ctx.Done():
			r.machine.Disconnect()
			o := r.drainOutcome()
			return o, ctx.Err()
		}
	}
}

func (r *Runner) drainOutcome() Outcome {
	select {
	case o := <-r.outcomes:
		return o
	default:
		return Outcome{State: r.machine.State(), Err: r.machine.Err()}
	}
}

// Close stops pending operations, unsubscribes and closes Records.
func (r *Runner) Close() error {
	r.cancel()

	var firstErr error
	for _, e := range r.reg.Entries() {
		if !e.Notifying {
			continue
		}
		if err := e.Endpoint.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unsubscribe %s: %w", e.Role, err)
		}
		_ = r.reg.SetNotifying(e.Role, false)
	}
	r.records.Close()
	return firstErr
}

// Read implements Transport.
func (r *Runner) Read(seq uint64, e registry.Entry) {
	r.opsIssued.Inc()
	groutine.Go(r.ctx, "pairing-read-"+e.Role.String(), func(ctx context.Context) {
		data, err := e.Endpoint.Read(r.cfg.OpTimeout)
		r.post(ctx, Completion{Seq: seq, Role: e.Role, Op: OpRead, Value: data, Err: err})
	})
}

// Write implements Transport. Writes always request a response.
func (r *Runner) Write(seq uint64, e registry.Entry, data []byte) {
	r.opsIssued.Inc()
	payload := append([]byte(nil), data...)
	groutine.Go(r.ctx, "pairing-write-"+e.Role.String(), func(ctx context.Context) {
		err := e.Endpoint.Write(payload, true, r.cfg.OpTimeout)
		r.post(ctx, Completion{Seq: seq, Role: e.Role, Op: OpWrite, Err: err})
	})
}

// Subscribe implements Transport. Notifications go to Records.
func (r *Runner) Subscribe(e registry.Entry) error {
	role := e.Role
	return e.Endpoint.Subscribe(func(data []byte) {
		seq := r.notifications.Inc()
		if r.records.Send(Record{Role: role, Data: data, Seq: seq, TsUs: time.Now().UnixMicro()}) {
			r.logger.WithField("role", role).Debug("Record buffer full, dropped oldest")
		}
	})
}

func (r *Runner) post(ctx context.Context, c Completion) {
	select {
	case r.events <- c:
	case <-ctx.Done():
	}
}
