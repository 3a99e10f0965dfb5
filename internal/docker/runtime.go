// Package docker adapts the Docker Engine API to the watcher's view of
// the world: typed container inspections and a lifecycle event stream,
// both scoped to a single bridge network.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gantry"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// noValue is the placeholder docker templating tools emit for a missing
// label. Scripts that feed labels through `docker inspect --format` can
// leave it behind verbatim; it always means "absent", never a literal.
const noValue = "<no value>"

// Runtime is the docker-backed container source for one network.
type Runtime struct {
	cli            client.APIClient
	network        string
	inspectTimeout time.Duration
}

// NewRuntime creates a Runtime watching the named network.
func NewRuntime(cli client.APIClient, network string, inspectTimeout time.Duration) *Runtime {
	return &Runtime{cli: cli, network: network, inspectTimeout: inspectTimeout}
}

// NewClient creates a docker API client from the environment.
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Containers returns a typed inspection of every running container
// attached to the watched network. A container that vanishes between
// list and inspect is skipped, not an error.
func (r *Runtime) Containers(ctx context.Context) ([]gantry.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, r.inspectTimeout)
	defer cancel()

	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("network", r.network)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers on network %q: %w", r.network, err)
	}

	out := make([]gantry.Container, 0, len(list))
	for _, c := range list {
		inspected, err := r.cli.ContainerInspect(ctx, c.ID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				slog.Debug("container vanished during inspection", "id", c.ID)
				continue
			}
			return nil, fmt.Errorf("inspect container %s: %w", c.ID, err)
		}
		out = append(out, r.translate(inspected))
	}
	return out, nil
}

// Subscribe streams start/stop/die events for containers on the
// watched network. The error channel delivers at most one error; the
// stream is not resubscribed here — stream loss is the caller's signal
// to exit for supervisor restart.
func (r *Runtime) Subscribe(ctx context.Context) (<-chan gantry.ContainerEvent, <-chan error, error) {
	f := filters.NewArgs(
		filters.Arg("type", "container"),
		filters.Arg("network", r.network),
		filters.Arg("event", "start"),
		filters.Arg("event", "stop"),
		filters.Arg("event", "die"),
	)
	messages, errs := r.cli.Events(ctx, events.ListOptions{Filters: f})

	out := make(chan gantry.ContainerEvent)
	fatal := make(chan error, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				if err != nil {
					fatal <- fmt.Errorf("docker event stream: %w", err)
				} else {
					fatal <- fmt.Errorf("docker event stream closed")
				}
				return
			case msg := <-messages:
				event, ok := translateEvent(msg)
				if !ok {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, fatal, nil
}

func (r *Runtime) translate(c container.InspectResponse) gantry.Container {
	out := gantry.Container{
		ID:   c.ID,
		Name: containerName(c.Name),
	}

	if c.NetworkSettings != nil {
		if ep, ok := c.NetworkSettings.Networks[r.network]; ok && ep != nil {
			out.Address = ep.IPAddress
		}
	}

	if c.Config != nil {
		out.Labels = make(map[string]string, len(c.Config.Labels))
		for k, v := range c.Config.Labels {
			if v == noValue {
				continue // placeholder, treat as absent
			}
			out.Labels[k] = v
		}

		ports := make([]uint16, 0, len(c.Config.ExposedPorts))
		for p := range c.Config.ExposedPorts {
			if p.Proto() != "tcp" {
				continue
			}
			ports = append(ports, uint16(p.Int()))
		}
		sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
		out.ExposedPorts = ports
	}

	return out
}

func translateEvent(msg events.Message) (gantry.ContainerEvent, bool) {
	var kind gantry.ContainerEventKind
	switch msg.Action {
	case events.ActionStart:
		kind = gantry.ContainerStarted
	case events.ActionStop:
		kind = gantry.ContainerStopped
	case events.ActionDie:
		kind = gantry.ContainerDied
	default:
		return gantry.ContainerEvent{}, false
	}
	return gantry.ContainerEvent{
		Kind: kind,
		ID:   msg.Actor.ID,
		Name: msg.Actor.Attributes["name"],
	}, true
}

// containerName strips the leading slash docker puts on inspected names.
func containerName(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
