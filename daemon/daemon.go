// Package daemon wires the gantry daemon together: the Docker event
// watcher, the nginx config pipeline, the pass journal, and the
// control API on a unix socket.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"gantry/config"
	"gantry/internal/docker"
	"gantry/internal/logging"
	"gantry/internal/support/buildinfo"
	"gantry/journal"
	"gantry/nginx"
	"gantry/telemetry"
	"gantry/watcher"
)

// Run starts the daemon and blocks until ctx is cancelled or a fatal
// error occurs. Losing the Docker event stream is fatal; the daemon
// exits and relies on its supervisor to restart it.
func Run(ctx context.Context, cfg config.Config) error {
	lock, err := acquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Close()

	cli, err := docker.NewClient()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer cli.Close()

	runtime := docker.NewRuntime(cli, cfg.Network, cfg.InspectTimeout)

	generator := &nginx.Generator{
		StageDir:    cfg.StageDir(),
		ListenPort:  cfg.ListenPort,
		RoutePrefix: cfg.RoutePrefix,
	}
	promoter := &nginx.Promoter{
		NginxBin:        cfg.NginxBin,
		LiveUpstreams:   cfg.UpstreamsFile,
		LiveRoutes:      cfg.RoutesFile,
		ValidateTimeout: cfg.ValidateTimeout,
		ReloadTimeout:   cfg.ReloadTimeout,
	}

	log := logging.Component("daemon")

	// A broken journal degrades history, not routing.
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		log.Warn("pass journal unavailable", "path", cfg.JournalPath(), "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	provider := telemetry.NewSlogProvider(logging.Component("telemetry"))
	defer provider.Shutdown(context.Background())

	rebuilder := &watcher.Rebuilder{
		Source:    runtime,
		Generator: generator,
		Promoter:  promoter,
		Tracer:    provider.Tracer("gantry/watcher"),
	}
	if store != nil {
		rebuilder.Journal = store
	}

	loop := watcher.New(runtime, rebuilder, cfg.Network, cfg.SettleDelay)
	server := NewServer(loop, passLister(store), buildinfo.Version, log)

	log.Info("gantryd starting",
		"version", buildinfo.Version,
		"network", cfg.Network,
		"socket", cfg.Socket)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop.Run(ctx)
	})
	group.Go(func() error {
		return server.ListenAndServe(ctx, cfg.Socket)
	})
	return group.Wait()
}

// passLister keeps a nil *journal.Store from becoming a non-nil
// PassLister interface value.
func passLister(store *journal.Store) PassLister {
	if store == nil {
		return nil
	}
	return store
}

// acquireLock takes an exclusive flock on the daemon lock file so two
// gantryd processes cannot fight over the nginx config files. The
// returned file must stay open for the daemon's lifetime.
func acquireLock(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("lock %s (is another gantryd running?): %w", path, err)
	}
	return file, nil
}
