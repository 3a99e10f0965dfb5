// Package buildinfo carries version information stamped at build time.
package buildinfo

// Version is overridden at release build via
// -ldflags "-X gantry/internal/support/buildinfo.Version=v1.2.3".
var Version = "dev"
