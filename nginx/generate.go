// Package nginx renders and promotes the reverse-proxy configuration.
//
// The generator owns two include files: upstream definitions and
// server/location definitions. Candidates are always written to a
// staging directory beside the live files; promotion (promote.go) is
// the only path from staged to live.
package nginx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gantry"
)

const (
	stagedUpstreams = "upstreams.conf"
	stagedRoutes    = "routes.conf"
	stagedWrapper   = "validate.conf"

	header = "# Managed by gantryd. Do not edit; regenerated on container events.\n"
)

// Generator renders the route set into staged configuration files.
type Generator struct {
	StageDir    string
	ListenPort  int
	RoutePrefix string // shared prefix stripped before proxying, may be empty
}

// Staged is a candidate configuration awaiting validation.
type Staged struct {
	UpstreamsFile string
	RoutesFile    string
	WrapperFile   string // self-contained config for nginx -t
}

// Generate renders the complete route set into the staging directory.
// Output is deterministic: routes are sorted by container name, so any
// discovery order produces byte-identical files.
func (g *Generator) Generate(routes []gantry.Route) (Staged, error) {
	sorted := make([]gantry.Route, len(routes))
	copy(sorted, routes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	if err := os.MkdirAll(g.StageDir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("create stage dir: %w", err)
	}

	staged := Staged{
		UpstreamsFile: filepath.Join(g.StageDir, stagedUpstreams),
		RoutesFile:    filepath.Join(g.StageDir, stagedRoutes),
		WrapperFile:   filepath.Join(g.StageDir, stagedWrapper),
	}

	files := []struct {
		path    string
		content string
	}{
		{staged.UpstreamsFile, g.renderUpstreams(sorted)},
		{staged.RoutesFile, g.renderRoutes(sorted)},
		{staged.WrapperFile, g.renderWrapper(staged)},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return Staged{}, fmt.Errorf("write staged %s: %w", filepath.Base(f.path), err)
		}
	}
	return staged, nil
}

func (g *Generator) renderUpstreams(routes []gantry.Route) string {
	var b strings.Builder
	b.WriteString(header)
	for _, r := range routes {
		fmt.Fprintf(&b, "\nupstream %s {\n    server %s:%d;\n}\n", r.Upstream(), r.Address, r.Port)
	}
	return b.String()
}

func (g *Generator) renderRoutes(routes []gantry.Route) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\nmap $http_upgrade $connection_upgrade {\n    default upgrade;\n    \"\" close;\n}\n")

	var pathRoutes, hostRoutes []gantry.Route
	for _, r := range routes {
		if r.HostBased() {
			hostRoutes = append(hostRoutes, r)
		} else {
			pathRoutes = append(pathRoutes, r)
		}
	}

	if len(pathRoutes) > 0 {
		fmt.Fprintf(&b, "\nserver {\n    listen %d;\n", g.ListenPort)
		for _, r := range pathRoutes {
			prefix := g.RoutePrefix + r.Path
			// Bare-prefix requests are redirected to the slash form so
			// the prefix strip below is unambiguous.
			fmt.Fprintf(&b, "\n    location = %s {\n        return 308 %s/;\n    }\n", prefix, prefix)
			fmt.Fprintf(&b, "\n    location %s/ {\n", prefix)
			// Trailing slash on proxy_pass strips the matched prefix:
			// a request for <prefix>/health reaches the backend as /health.
			fmt.Fprintf(&b, "        proxy_pass http://%s/;\n", r.Upstream())
			writeProxyHeaders(&b, "        ")
			b.WriteString("    }\n")
		}
		b.WriteString("}\n")
	}

	for _, r := range hostRoutes {
		fmt.Fprintf(&b, "\nserver {\n    listen %d;\n    server_name %s;\n", g.ListenPort, r.Host)
		b.WriteString("\n    location / {\n")
		fmt.Fprintf(&b, "        proxy_pass http://%s;\n", r.Upstream())
		writeProxyHeaders(&b, "        ")
		b.WriteString("    }\n}\n")
	}

	return b.String()
}

// renderWrapper emits a minimal standalone config so the staged pair
// can be syntax checked without touching the host's main nginx.conf.
func (g *Generator) renderWrapper(staged Staged) string {
	var b strings.Builder
	b.WriteString(header)
	fmt.Fprintf(&b, "\npid %s;\n", filepath.Join(g.StageDir, "validate.pid"))
	b.WriteString("error_log stderr;\n")
	b.WriteString("events {}\n")
	fmt.Fprintf(&b, "http {\n    include %s;\n    include %s;\n}\n", staged.UpstreamsFile, staged.RoutesFile)
	return b.String()
}

func writeProxyHeaders(b *strings.Builder, indent string) {
	for _, line := range []string{
		"proxy_http_version 1.1;",
		"proxy_set_header Host $host;",
		"proxy_set_header X-Real-IP $remote_addr;",
		"proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;",
		"proxy_set_header X-Forwarded-Proto $scheme;",
		"proxy_set_header Upgrade $http_upgrade;",
		"proxy_set_header Connection $connection_upgrade;",
	} {
		b.WriteString(indent)
		b.WriteString(line)
		b.WriteString("\n")
	}
}
