package main

import "fmt"

// version and buildType are set via -ldflags at release build time; the
// zero-value fallbacks keep a plain `go build` usable during development.
var (
	version   = "dev"
	buildType = "unknown"
)

func versionString() string {
	return fmt.Sprintf("%s-%s", version, buildType)
}
