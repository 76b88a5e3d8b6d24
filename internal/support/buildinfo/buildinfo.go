// Package buildinfo carries the binary version, overridden at link time:
//
//	go build -ldflags "-X macline/internal/support/buildinfo.Version=v1.2.3"
package buildinfo

// Version is the build version reported by --version.
var Version = "dev"
