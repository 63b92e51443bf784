package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays progress messages with elapsed time on stderr.
// Output is suppressed entirely when stderr is not a terminal, so piped and
// redirected runs stay clean.
//
// Usage:
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
//
// The caller must call Stop to release resources and terminate the internal
// goroutine; failing to do so will leak a goroutine.
//
// A ProgressPrinter is single-use. Start may be called at most once, and Stop
// should be called exactly once. After Stop, the instance cannot be restarted.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value        // stores string - current phase name
	stopPhases map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{} // closed when goroutine exits
	started    atomic.Bool   // ensures Start is called at most once
	countUp    bool          // true for count up, false for countdown
	duration   time.Duration // for countdown mode
	tty        bool
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed
// time). stopPhases are phase names that trigger automatic cleanup when set
// via Callback.
func NewProgressPrinter(prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	p := newPrinter(prefix, phase, stopPhases)
	p.countUp = true
	return p
}

// NewCountdownProgressPrinter creates a progress printer that counts down from
// the duration.
func NewCountdownProgressPrinter(prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	p := newPrinter(prefix, phase, stopPhases)
	p.duration = duration
	return p
}

func newPrinter(prefix, phase string, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{})
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		prefix:     prefix,
		stopPhases: stopSet,
		tty:        term.IsTerminal(int(os.Stderr.Fd())),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	if p.stopChan != nil {
		panic("ProgressPrinter cannot be reused after Stop")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.startProgressLoop(ticker)
}

func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	if !p.tty {
		return
	}
	if seconds > 0 {
		fmt.Fprintf(os.Stderr, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(os.Stderr, "\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) startProgressLoop(ticker *time.Ticker) {
	p.printProgress(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				currentPhase := p.phase.Load().(string)
				if _, isStopPhase := p.stopPhases[currentPhase]; isStopPhase {
					return
				}
				elapsed := time.Since(p.startTime)

				var seconds int
				if p.countUp {
					seconds = int(elapsed.Seconds())
				} else {
					remaining := p.duration - elapsed
					if remaining <= 0 {
						seconds = 0
					} else {
						// Round to the nearest second.
						seconds = int(remaining.Seconds() + 0.5)
					}
				}
				p.printProgress(currentPhase, seconds)
			}
		}
	}()
}

// Callback returns a progress callback function that updates the phase.
// If the new phase is a stop phase, Stop() is called automatically.
// Safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line. Safe to call multiple
// times and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	if p.tty {
		fmt.Fprint(os.Stderr, clearLineSequence)
	}
}
