package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gantry"
)

type fakeWatcher struct {
	status     gantry.Status
	triggered  int
	report     gantry.PassReport
	triggerErr error
}

func (f *fakeWatcher) Status() gantry.Status {
	return f.status
}

func (f *fakeWatcher) Trigger(ctx context.Context) (gantry.PassReport, error) {
	f.triggered++
	return f.report, f.triggerErr
}

type fakeJournal struct {
	passes    []gantry.PassReport
	lastLimit int
	err       error
}

func (f *fakeJournal) ListPasses(ctx context.Context, limit int) ([]gantry.PassReport, error) {
	f.lastLimit = limit
	return f.passes, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doRequest(t *testing.T, server *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, target, nil)
	server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func TestStatusEndpoint(t *testing.T) {
	last := gantry.PassReport{
		StartedAt: time.Now(),
		Trigger:   "start",
		Routes:    2,
		Outcome:   gantry.PassPromoted,
		Duration:  120 * time.Millisecond,
	}
	fake := &fakeWatcher{status: gantry.Status{
		Network:  "gantry",
		Watching: true,
		Passes:   5,
		Promoted: 3,
		LastPass: &last,
	}}
	server := NewServer(fake, nil, "1.2.3", quietLogger())

	recorder := doRequest(t, server, http.MethodGet, "/v1/status")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", recorder.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Network != "gantry" || !resp.Watching {
		t.Errorf("network/watching = %q/%v", resp.Network, resp.Watching)
	}
	if resp.Passes != 5 || resp.Promoted != 3 {
		t.Errorf("passes/promoted = %d/%d, want 5/3", resp.Passes, resp.Promoted)
	}
	if resp.LastPass == nil {
		t.Fatal("last pass missing")
	}
	if resp.LastPass.Outcome != "promoted" || resp.LastPass.Trigger != "start" {
		t.Errorf("last pass = %+v", resp.LastPass)
	}
	if resp.LastPass.DurationMS != 120 {
		t.Errorf("duration_ms = %d, want 120", resp.LastPass.DurationMS)
	}
}

func TestRoutesEndpoint(t *testing.T) {
	fake := &fakeWatcher{status: gantry.Status{
		Routes: []gantry.Route{
			{Name: "api", Address: "172.20.0.2", Port: 8080, Path: "/api"},
			{Name: "blog", Address: "172.20.0.3", Port: 80, Host: "blog.example.com"},
		},
	}}
	server := NewServer(fake, nil, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodGet, "/v1/routes")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", recorder.Code)
	}

	var resp struct {
		Routes []routeView `json:"routes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Routes) != 2 {
		t.Fatalf("routes = %d, want 2", len(resp.Routes))
	}
	if resp.Routes[0].Upstream != "gantry_api" {
		t.Errorf("upstream = %q, want gantry_api", resp.Routes[0].Upstream)
	}
	if resp.Routes[1].Host != "blog.example.com" {
		t.Errorf("host = %q", resp.Routes[1].Host)
	}
}

func TestRoutesEndpointEmpty(t *testing.T) {
	server := NewServer(&fakeWatcher{}, nil, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodGet, "/v1/routes")
	var resp struct {
		Routes []routeView `json:"routes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Routes == nil {
		t.Error("routes should be an empty list, not null")
	}
}

func TestPassesEndpoint(t *testing.T) {
	journal := &fakeJournal{passes: []gantry.PassReport{
		{Trigger: "die", Outcome: gantry.PassUnchanged},
		{Trigger: "startup", Outcome: gantry.PassPromoted, Routes: 4},
	}}
	server := NewServer(&fakeWatcher{}, journal, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodGet, "/v1/passes?limit=10")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", recorder.Code)
	}
	if journal.lastLimit != 10 {
		t.Errorf("limit = %d, want 10", journal.lastLimit)
	}

	var resp struct {
		Passes []passView `json:"passes"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Passes) != 2 {
		t.Fatalf("passes = %d, want 2", len(resp.Passes))
	}
	if resp.Passes[0].Outcome != "unchanged" {
		t.Errorf("outcome = %q, want unchanged", resp.Passes[0].Outcome)
	}
}

func TestPassesEndpointBadLimit(t *testing.T) {
	server := NewServer(&fakeWatcher{}, &fakeJournal{}, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodGet, "/v1/passes?limit=nope")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400", recorder.Code)
	}
}

func TestPassesEndpointWithoutJournal(t *testing.T) {
	server := NewServer(&fakeWatcher{}, nil, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodGet, "/v1/passes")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", recorder.Code)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	fake := &fakeWatcher{report: gantry.PassReport{
		Trigger: "manual",
		Outcome: gantry.PassPromoted,
		Routes:  3,
	}}
	server := NewServer(fake, nil, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodPost, "/v1/rebuild")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", recorder.Code)
	}
	if fake.triggered != 1 {
		t.Errorf("triggered = %d, want 1", fake.triggered)
	}

	var resp struct {
		Pass passView `json:"pass"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Pass.Outcome != "promoted" || resp.Pass.Routes != 3 {
		t.Errorf("pass = %+v", resp.Pass)
	}
}

func TestRebuildEndpointWatcherDown(t *testing.T) {
	fake := &fakeWatcher{triggerErr: errors.New("watcher not running")}
	server := NewServer(fake, nil, "dev", quietLogger())

	recorder := doRequest(t, server, http.MethodPost, "/v1/rebuild")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", recorder.Code)
	}
}

func TestServerUnixSocket(t *testing.T) {
	socket := t.TempDir() + "/gantryd.sock"
	server := NewServer(&fakeWatcher{status: gantry.Status{Network: "gantry"}}, nil, "dev", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx, socket)
	}()

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", socket)
			},
		},
	}
	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = httpClient.Get("http://gantryd/v1/status")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("request over unix socket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
