package gantry

// Route maps an externally visible path or host to one container backend.
// Routes are derived per rebuild pass and never persisted or mutated;
// a label change takes effect only when the container is recreated.
type Route struct {
	Name    string // container name, unique per running container on the network
	Address string // container IP on the watched network
	Port    uint16 // backend listen port
	Path    string // URL prefix, normalized to a leading slash and no trailing slash
	Host    string // optional virtual-host match; empty means path-only routing
}

// Upstream returns the nginx upstream name for this route.
func (r Route) Upstream() string {
	return "gantry_" + r.Name
}

// HostBased reports whether the route matches on a virtual host
// rather than a path prefix.
func (r Route) HostBased() bool {
	return r.Host != ""
}

// Container is the typed inspection result for one running container.
// Address is empty when the container is not attached to the watched
// network. Label values equal to the docker template placeholder have
// already been translated to absence by the runtime adapter.
type Container struct {
	ID           string
	Name         string
	Address      string
	Labels       map[string]string
	ExposedPorts []uint16 // ascending
}

// ContainerEventKind describes what happened to a container.
type ContainerEventKind uint8

const (
	ContainerStarted ContainerEventKind = iota + 1
	ContainerStopped
	ContainerDied
)

func (k ContainerEventKind) String() string {
	switch k {
	case ContainerStarted:
		return "start"
	case ContainerStopped:
		return "stop"
	case ContainerDied:
		return "die"
	default:
		return "unknown"
	}
}

// ContainerEvent is a single lifecycle event on the watched network.
type ContainerEvent struct {
	Kind ContainerEventKind
	ID   string
	Name string
}
