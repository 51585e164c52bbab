//go:build !windows

package pathlimit

type unlimitedProbe struct{}

// SystemProbe reports extended paths as enabled; only Windows has the legacy limit.
func SystemProbe() Probe { return unlimitedProbe{} }

func (unlimitedProbe) ExtendedPathsEnabled() (bool, error) { return true, nil }

// EnableExtendedPaths has nothing to change outside Windows.
func EnableExtendedPaths() bool { return true }
