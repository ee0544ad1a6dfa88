package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// archAliases folds the spellings uname and package names use into GOARCH.
var archAliases = map[string]string{
	"x86_64":  "amd64",
	"x64":     "amd64",
	"aarch64": "arm64",
	"armv8":   "arm64",
}

// distroLookup returns the distribution ID and version. Replaced in tests.
type distroLookup func(ctx context.Context) (id, version string, err error)

func gopsutilDistro(ctx context.Context) (string, string, error) {
	id, _, version, err := host.PlatformInformationWithContext(ctx)
	return id, version, err
}

// RealDetector inspects the running process and, on Linux, the OS release files.
type RealDetector struct {
	goos, goarch string
	distro       distroLookup
}

// NewDetector returns a Detector for the current host.
func NewDetector() Detector {
	return &RealDetector{
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
		distro: gopsutilDistro,
	}
}

// Detect fills Info. A failed distribution lookup leaves the distro fields
// empty; only a cancelled context is an error.
func (d *RealDetector) Detect(ctx context.Context) (Info, error) {
	info := Info{
		OS:      d.goos,
		ArchRaw: d.goarch,
		Arch:    canonicalArch(d.goarch),
	}
	if d.goos != "linux" {
		return info, nil
	}

	id, version, err := d.distro(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("detect distribution: %w", ctx.Err())
		}
		return info, nil
	}

	info.Distro = strings.ToLower(strings.TrimSpace(id))
	if info.Distro != "" {
		info.DistroVersion = strings.TrimSpace(version)
	}
	return info, nil
}

// canonicalArch maps known aliases to GOARCH names and passes anything else
// through, so an unusual architecture is recorded rather than rejected.
func canonicalArch(arch string) string {
	if alias, ok := archAliases[strings.ToLower(arch)]; ok {
		return alias
	}
	return arch
}
