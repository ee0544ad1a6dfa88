// Package platform detects the host tow runs on.
//
// Detection happens once, at startup, in the orchestrating layer. The
// resulting Info is passed by value into the binary store, which records the
// operating system and architecture in its registry and never looks at the
// runtime itself. On Linux the distribution is resolved with gopsutil; when
// that fails the OS and architecture are still reported.
package platform

import (
	"context"
	"fmt"
)

// Info describes the host.
type Info struct {
	OS            string // GOOS
	Arch          string // "amd64" or "arm64" for their aliases, otherwise ArchRaw
	ArchRaw       string // GOARCH as reported by the runtime
	Distro        string // lower-cased distribution ID, Linux only
	DistroVersion string
}

// String renders the platform for display, e.g. "linux/amd64 (ubuntu 22.04)".
func (i Info) String() string {
	s := i.OS + "/" + i.Arch
	switch {
	case i.Distro == "":
		return s
	case i.DistroVersion == "":
		return fmt.Sprintf("%s (%s)", s, i.Distro)
	default:
		return fmt.Sprintf("%s (%s %s)", s, i.Distro, i.DistroVersion)
	}
}

// Detector resolves the host Info.
type Detector interface {
	Detect(ctx context.Context) (Info, error)
}

// Static is a Detector that always returns the same Info.
type Static Info

// Detect returns the wrapped Info.
func (s Static) Detect(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	return Info(s), nil
}
