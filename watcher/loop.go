// Package watcher keeps the proxy configuration converged with the
// set of running containers on one network.
//
// The loop serializes rebuild passes: every trigger — startup
// catch-up, container event, or manual request — flows through a
// single for/select, so exactly one pass is ever in flight and the
// staged/live file pair has a single writer.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gantry"
)

// Loop subscribes to container lifecycle events and rebuilds the proxy
// configuration after each one.
type Loop struct {
	source    Source
	rebuilder RebuildRunner
	network   string
	settle    time.Duration

	trigger chan triggerRequest

	mu     sync.Mutex
	status gantry.Status
}

type triggerRequest struct {
	reply chan gantry.PassReport
}

// New creates a watcher loop. settle is the pause after a container
// start event before inspection, letting the network attachment
// complete.
func New(source Source, rebuilder RebuildRunner, network string, settle time.Duration) *Loop {
	return &Loop{
		source:    source,
		rebuilder: rebuilder,
		network:   network,
		settle:    settle,
		trigger:   make(chan triggerRequest),
		status:    gantry.Status{Network: network},
	}
}

// Run blocks until ctx is cancelled or the event stream is lost.
// Stream loss is an error by design: the supervisor restarts the
// process and the startup catch-up pass reconverges. A failed rebuild
// pass is never fatal; the loop logs and keeps watching.
func (l *Loop) Run(ctx context.Context) error {
	// Catch up on whatever is already running before subscribing, so a
	// watcher restart converges even if no further events ever arrive.
	l.runPass(ctx, "startup")

	events, errs, err := l.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to container events: %w", err)
	}

	l.setWatching(true)
	defer l.setWatching(false)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errs:
			return fmt.Errorf("container event stream lost: %w", err)

		case req := <-l.trigger:
			report := l.runPass(ctx, "manual")
			req.reply <- report

		case event, ok := <-events:
			if !ok {
				return fmt.Errorf("container event stream closed")
			}
			slog.Debug("container event",
				"kind", event.Kind.String(), "container", event.Name)

			if event.Kind == gantry.ContainerStarted {
				if !sleepContext(ctx, l.settle) {
					return nil
				}
			}
			closed := l.drain(events)
			l.runPass(ctx, event.Kind.String())
			if closed {
				return fmt.Errorf("container event stream closed")
			}
		}
	}
}

// Trigger requests a manual rebuild pass through the loop and waits
// for its report. The pass runs in line with event-driven passes;
// it can never overlap one.
func (l *Loop) Trigger(ctx context.Context) (gantry.PassReport, error) {
	req := triggerRequest{reply: make(chan gantry.PassReport, 1)}
	select {
	case l.trigger <- req:
	case <-ctx.Done():
		return gantry.PassReport{}, ctx.Err()
	}
	select {
	case report := <-req.reply:
		return report, nil
	case <-ctx.Done():
		return gantry.PassReport{}, ctx.Err()
	}
}

// Status returns a snapshot of the loop.
func (l *Loop) Status() gantry.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.status
	if l.status.LastPass != nil {
		last := *l.status.LastPass
		out.LastPass = &last
	}
	out.Routes = append([]gantry.Route(nil), l.status.Routes...)
	return out
}

func (l *Loop) runPass(ctx context.Context, trigger string) gantry.PassReport {
	report, routes := l.rebuilder.Rebuild(ctx, trigger)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Passes++
	switch report.Outcome {
	case gantry.PassPromoted:
		l.status.Promoted++
	case gantry.PassUnchanged:
		l.status.Unchanged++
	default:
		l.status.Failed++
	}
	l.status.LastPass = &report
	if routes != nil {
		l.status.Routes = routes
	}
	return report
}

// drain consumes events queued behind the one being handled, so a
// burst of near-simultaneous starts coalesces into one pass. The full
// rebuild makes their individual ordering irrelevant. Returns true if
// the stream closed while draining.
func (l *Loop) drain(events <-chan gantry.ContainerEvent) bool {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return true
			}
			slog.Debug("container event coalesced",
				"kind", event.Kind.String(), "container", event.Name)
		default:
			return false
		}
	}
}

func (l *Loop) setWatching(v bool) {
	l.mu.Lock()
	l.status.Watching = v
	l.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
