// Package route derives routing intent from container metadata.
//
// Extraction is a pure function from one inspected container to either
// a fully populated route or "not applicable". There is no partial
// result: a container that cannot be routed completely is excluded.
package route

import (
	"fmt"
	"strconv"
	"strings"

	"gantry"
)

// Labels consumed from containers. Everything is optional; a container
// with no gantry-related labels is still routed at /<name> on its
// first exposed port.
const (
	LabelEnable = "nginx.enable"
	LabelPath   = "nginx.path"
	LabelHost   = "nginx.host"
	LabelPort   = "nginx.port"
)

// FromContainer derives a route from one container. The bool is false
// when the container is not applicable: detached from the network,
// explicitly disabled, or without a determinable port. A malformed
// label value — an unparseable port, or a path/host that could not be
// rendered verbatim into a directive — is an error so the caller can
// log the culprit; the container is still excluded for the pass.
func FromContainer(c gantry.Container) (gantry.Route, bool, error) {
	if c.Address == "" {
		return gantry.Route{}, false, nil
	}
	if c.Labels[LabelEnable] == "false" {
		return gantry.Route{}, false, nil
	}

	port, ok, err := resolvePort(c)
	if err != nil {
		return gantry.Route{}, false, err
	}
	if !ok {
		return gantry.Route{}, false, nil
	}

	path, err := resolvePath(c)
	if err != nil {
		return gantry.Route{}, false, err
	}
	host := c.Labels[LabelHost]
	if host != "" && !safeLabelValue(host) {
		return gantry.Route{}, false, fmt.Errorf("invalid %s label %q", LabelHost, host)
	}

	return gantry.Route{
		Name:    c.Name,
		Address: c.Address,
		Port:    port,
		Path:    path,
		Host:    host,
	}, true, nil
}

// FromContainers derives the route set for a full rebuild. Containers
// that fail extraction are skipped, never fatal; skipped counts both
// not-applicable and failed containers.
func FromContainers(containers []gantry.Container) (routes []gantry.Route, skipped int, errs []error) {
	for _, c := range containers {
		r, ok, err := FromContainer(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("container %s: %w", c.Name, err))
			skipped++
			continue
		}
		if !ok {
			skipped++
			continue
		}
		routes = append(routes, r)
	}
	return routes, skipped, errs
}

func resolvePath(c gantry.Container) (string, error) {
	path := c.Labels[LabelPath]
	if path == "" {
		path = c.Name
	}
	if !safeLabelValue(path) {
		return "", fmt.Errorf("invalid %s label %q", LabelPath, path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		// "/" and "///" normalize to nothing; there is no prefix to match.
		return "", fmt.Errorf("invalid %s label %q", LabelPath, c.Labels[LabelPath])
	}
	return path, nil
}

// safeLabelValue rejects values that cannot appear verbatim inside a
// rendered directive. Whitespace and control characters would split
// tokens or splice whole directives into the config; the rest are
// nginx config metacharacters.
func safeLabelValue(v string) bool {
	for _, r := range v {
		if r <= ' ' || r == 0x7f {
			return false
		}
		switch r {
		case ';', '{', '}', '"', '\'', '\\', '#', '$':
			return false
		}
	}
	return true
}

func resolvePort(c gantry.Container) (uint16, bool, error) {
	if raw, ok := c.Labels[LabelPort]; ok && raw != "" {
		port, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || port == 0 {
			return 0, false, fmt.Errorf("invalid %s label %q", LabelPort, raw)
		}
		return uint16(port), true, nil
	}
	if len(c.ExposedPorts) > 0 {
		return c.ExposedPorts[0], true, nil
	}
	return 0, false, nil
}
