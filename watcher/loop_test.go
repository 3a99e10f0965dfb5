package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gantry"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []string
	report   gantry.PassReport
	routes   []gantry.Route
}

func (f *fakeRunner) Rebuild(_ context.Context, trigger string) (gantry.PassReport, []gantry.Route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	report := f.report
	report.Trigger = trigger
	return report, f.routes
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newTestLoop(runner *fakeRunner) (*Loop, *fakeSource) {
	src := &fakeSource{
		events: make(chan gantry.ContainerEvent),
		errs:   make(chan error, 1),
	}
	return New(src, runner, "edge", 0), src
}

func TestLoop_StartupPassBeforeEvents(t *testing.T) {
	runner := &fakeRunner{report: gantry.PassReport{Outcome: gantry.PassPromoted}, routes: []gantry.Route{}}
	loop, _ := newTestLoop(runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })
	if runner.seen()[0] != "startup" {
		t.Errorf("first trigger = %q, want startup", runner.seen()[0])
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v on cancellation", err)
	}
}

func TestLoop_EventTriggersPass(t *testing.T) {
	runner := &fakeRunner{report: gantry.PassReport{Outcome: gantry.PassPromoted}, routes: []gantry.Route{}}
	loop, src := newTestLoop(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })
	src.events <- gantry.ContainerEvent{Kind: gantry.ContainerDied, Name: "api"}

	waitFor(t, func() bool { return len(runner.seen()) == 2 })
	if got := runner.seen()[1]; got != "die" {
		t.Errorf("trigger = %q, want die", got)
	}
}

func TestLoop_StreamErrorIsFatal(t *testing.T) {
	runner := &fakeRunner{}
	loop, src := newTestLoop(runner)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })
	src.errs <- errors.New("connection reset")

	err := <-done
	if err == nil {
		t.Fatal("Run must return an error when the event stream is lost")
	}
}

func TestLoop_StreamCloseIsFatal(t *testing.T) {
	runner := &fakeRunner{}
	loop, src := newTestLoop(runner)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })
	close(src.events)

	if err := <-done; err == nil {
		t.Fatal("Run must return an error when the event stream closes")
	}
}

func TestLoop_FailedPassKeepsWatching(t *testing.T) {
	runner := &fakeRunner{report: gantry.PassReport{Outcome: gantry.PassDiscarded}}
	loop, src := newTestLoop(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })
	src.events <- gantry.ContainerEvent{Kind: gantry.ContainerStarted, Name: "a"}
	waitFor(t, func() bool { return len(runner.seen()) == 2 })
	src.events <- gantry.ContainerEvent{Kind: gantry.ContainerStopped, Name: "a"}
	waitFor(t, func() bool { return len(runner.seen()) == 3 })

	status := loop.Status()
	if status.Failed != 3 {
		t.Errorf("failed passes = %d, want 3", status.Failed)
	}
	if !status.Watching {
		t.Error("loop stopped watching after failed passes")
	}
}

func TestLoop_TriggerRunsManualPass(t *testing.T) {
	runner := &fakeRunner{report: gantry.PassReport{Outcome: gantry.PassUnchanged}, routes: []gantry.Route{}}
	loop, _ := newTestLoop(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })

	report, err := loop.Trigger(ctx)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if report.Trigger != "manual" {
		t.Errorf("trigger = %q, want manual", report.Trigger)
	}
	if report.Outcome != gantry.PassUnchanged {
		t.Errorf("outcome = %v", report.Outcome)
	}
}

func TestLoop_TriggerWithoutRunningLoop(t *testing.T) {
	loop, _ := newTestLoop(&fakeRunner{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := loop.Trigger(ctx); err == nil {
		t.Error("Trigger must fail when the loop is not running")
	}
}

func TestLoop_StatusCountersAndRoutes(t *testing.T) {
	active := []gantry.Route{{Name: "api", Address: "172.18.0.5", Port: 8080, Path: "/api"}}
	runner := &fakeRunner{report: gantry.PassReport{Outcome: gantry.PassPromoted, Routes: 1}, routes: active}
	loop, src := newTestLoop(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })
	src.events <- gantry.ContainerEvent{Kind: gantry.ContainerStarted, Name: "api"}
	waitFor(t, func() bool { return len(runner.seen()) == 2 })

	status := loop.Status()
	if status.Passes != 2 || status.Promoted != 2 {
		t.Errorf("passes/promoted = %d/%d, want 2/2", status.Passes, status.Promoted)
	}
	if status.LastPass == nil || status.LastPass.Trigger != "start" {
		t.Errorf("last pass = %+v", status.LastPass)
	}
	if len(status.Routes) != 1 || status.Routes[0].Name != "api" {
		t.Errorf("active routes = %+v", status.Routes)
	}
	if status.Network != "edge" {
		t.Errorf("network = %q", status.Network)
	}
}

func TestLoop_CoalescesQueuedEvents(t *testing.T) {
	runner := &fakeRunner{report: gantry.PassReport{Outcome: gantry.PassPromoted}, routes: []gantry.Route{}}
	src := &fakeSource{
		// Buffered so a burst can queue up before the loop drains it.
		events: make(chan gantry.ContainerEvent, 8),
		errs:   make(chan error, 1),
	}
	loop := New(src, runner, "edge", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, func() bool { return len(runner.seen()) == 1 })

	// Three near-simultaneous starts: the settle delay lets them all
	// queue, so one pass covers the burst.
	for _, name := range []string{"a", "b", "c"} {
		src.events <- gantry.ContainerEvent{Kind: gantry.ContainerStarted, Name: name}
	}

	waitFor(t, func() bool { return len(runner.seen()) >= 2 })
	time.Sleep(50 * time.Millisecond)
	if got := len(runner.seen()); got != 2 {
		t.Errorf("passes = %d, want 2 (startup + one coalesced)", got)
	}
}
