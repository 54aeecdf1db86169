package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated with the current phase and a timer.
//
//	p := NewProgressPrinter(w, "Pairing", "Connecting", "Done")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.String
	stopPhases map[string]struct{}
	countdown  time.Duration // zero counts up

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer showing elapsed seconds.
// Setting one of stopPhases through Callback stops it.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a printer showing the seconds left of duration.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase, stopPhases...)
	p.countdown = duration
	return p
}

// Start begins updating the line in a background goroutine.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	start := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase.Load())

	go func() {
		defer close(p.done)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load()
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.print(phase, p.seconds(time.Since(start)))
			}
		}
	}()
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countdown == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a phase setter suitable for scanner and inspector progress callbacks.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the updates and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
		}
		fmt.Fprint(p.out, clearLineSequence)
	})
}
