package watcher

import (
	"context"

	"gantry"
	"gantry/nginx"
)

// Source provides the current container set and a lifecycle event
// stream for the watched network.
// Production: *docker.Runtime
// Testing: fake with scripted containers and channels
type Source interface {
	Containers(ctx context.Context) ([]gantry.Container, error)
	Subscribe(ctx context.Context) (<-chan gantry.ContainerEvent, <-chan error, error)
}

// Generator renders a route set into staged configuration files.
// Production: *nginx.Generator
type Generator interface {
	Generate(routes []gantry.Route) (nginx.Staged, error)
}

// Promoter validates staged configuration and makes it live.
// Production: *nginx.Promoter
type Promoter interface {
	Promote(ctx context.Context, staged nginx.Staged) (nginx.PromoteResult, error)
}

// Journal records pass reports. Journal failures never fail a pass.
// Production: *journal.Store
type Journal interface {
	RecordPass(ctx context.Context, report gantry.PassReport) error
}

// RebuildRunner runs one full-rebuild pass and reports the outcome
// along with the active route set it materialized.
// Production: *Rebuilder
type RebuildRunner interface {
	Rebuild(ctx context.Context, trigger string) (gantry.PassReport, []gantry.Route)
}
