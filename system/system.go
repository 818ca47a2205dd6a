package system

import (
	"runtime"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// Version is set at build time with -ldflags "-X".
var Version = "0.0.1"

type Information struct {
	Version       string `json:"version"`
	KernelVersion string `json:"kernel_version"`
	Architecture  string `json:"architecture"`
	OS            string `json:"os"`
	CpuCount      int    `json:"cpu_count"`
	// Openat2 reports whether the kernel is recent enough for openat2(2).
	Openat2 bool `json:"openat2"`
}

func GetSystemInformation() (*Information, error) {
	k, err := kernel.GetKernelVersion()
	if err != nil {
		return nil, err
	}

	s := &Information{
		Version:       Version,
		KernelVersion: k.String(),
		Architecture:  runtime.GOARCH,
		OS:            runtime.GOOS,
		CpuCount:      runtime.NumCPU(),
		Openat2:       SupportsOpenat2(*k),
	}

	return s, nil
}

// openat2 landed in Linux 5.6.
var openat2Kernel = kernel.VersionInfo{Kernel: 5, Major: 6}

// SupportsOpenat2 reports whether kernel version v provides openat2(2).
func SupportsOpenat2(v kernel.VersionInfo) bool {
	return kernel.CompareKernelVersion(v, openat2Kernel) >= 0
}

// SupportsOpenat2Release is SupportsOpenat2 for a release string such as
// the one uname(2) reports. Unparseable releases are unsupported.
func SupportsOpenat2Release(release string) bool {
	v, err := kernel.ParseRelease(release)
	if err != nil {
		return false
	}
	return SupportsOpenat2(*v)
}
