// Package buildinfo holds build-time metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/lampwatch/lampwatch/internal/buildinfo.Version=v1.2.0"
package buildinfo

import "fmt"

// Set at link time.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Release is the identifier reported to telemetry.
func Release() string {
	return "lampwatch@" + Version
}

// String renders the version line printed by --version.
func String() string {
	return fmt.Sprintf("%s (built %s)", Version, BuildDate)
}
