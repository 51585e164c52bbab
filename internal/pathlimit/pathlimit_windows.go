//go:build windows

package pathlimit

import (
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	fileSystemKey  = `SYSTEM\CurrentControlSet\Control\FileSystem`
	longPathsValue = "LongPathsEnabled"
)

type registryProbe struct{}

// SystemProbe reads LongPathsEnabled from the registry.
func SystemProbe() Probe { return registryProbe{} }

func (registryProbe) ExtendedPathsEnabled() (bool, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, fileSystemKey, registry.QUERY_VALUE)
	if err != nil {
		return false, err
	}
	defer k.Close() //nolint:errcheck
	v, _, err := k.GetIntegerValue(longPathsValue)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// EnableExtendedPaths persists LongPathsEnabled=1. It returns false when the
// process is not elevated or the write fails.
func EnableExtendedPaths() bool {
	if !windows.GetCurrentProcessToken().IsElevated() {
		return false
	}
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, fileSystemKey, registry.SET_VALUE)
	if err != nil {
		return false
	}
	defer k.Close() //nolint:errcheck
	return k.SetDWordValue(longPathsValue, 1) == nil
}
