// Package version holds the build version reported by the CLI and the API.
package version

// Version is set at build time with
// -ldflags "-X github.com/affnet-network/affnet/internal/version.Version=...".
var Version = "dev"
