// Package pathlimit decides whether an archive path is short enough to be
// handled safely on the current platform.
package pathlimit

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"github.com/islishude/mangaview/internal/diag"
)

const (
	// ShortMaxPath is the legacy Windows MAX_PATH.
	ShortMaxPath = 260
	// ExtendedMaxPath applies once long path support is enabled.
	ExtendedMaxPath = 32767

	shortSafePath      = 240
	extendedMargin     = 512
	shortComponent     = 80
	extendedComponent  = 255
	EstimatedInnerPath = 120
)

// Probe reports whether extended path support is enabled.
type Probe interface {
	ExtendedPathsEnabled() (bool, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func() (bool, error)

func (f ProbeFunc) ExtendedPathsEnabled() (bool, error) { return f() }

// Policy evaluates path lengths against the platform limit.
type Policy struct {
	probe    Probe
	reporter diag.Reporter
}

// New returns a policy using the system probe. A nil reporter discards.
func New(r diag.Reporter) *Policy {
	return NewWithProbe(SystemProbe(), r)
}

func NewWithProbe(p Probe, r diag.Reporter) *Policy {
	if r == nil {
		r = diag.Discard
	}
	return &Policy{probe: p, reporter: r}
}

func (p *Policy) extended() bool {
	ok, err := p.probe.ExtendedPathsEnabled()
	return err == nil && ok
}

// MaxPathLength is ShortMaxPath unless extended support is enabled. A probe
// failure counts as not enabled.
func (p *Policy) MaxPathLength() int {
	if p.extended() {
		return ExtendedMaxPath
	}
	return ShortMaxPath
}

// SafePathLength leaves headroom below MaxPathLength for inner entry paths.
func (p *Policy) SafePathLength() int {
	if p.extended() {
		return ExtendedMaxPath - extendedMargin
	}
	return shortSafePath
}

// ComponentLimit bounds the length of the archive's own file name.
func (p *Policy) ComponentLimit() int {
	if p.extended() {
		return extendedComponent
	}
	return shortComponent
}

// Report is the outcome of a compatibility check.
type Report struct {
	PathLength      int
	NameLength      int
	EstimatedLength int
	SafeLength      int
	ComponentLimit  int

	PathTooLong       bool
	NameTooLong       bool
	EstimatedOverflow bool
}

// OK reports whether no limit was exceeded.
func (r Report) OK() bool { return !r.PathTooLong && !r.NameTooLong && !r.EstimatedOverflow }

// Evaluate measures path without reporting anything. Lengths are counted in
// UTF-16 code units, the unit Windows limits are expressed in.
func (p *Policy) Evaluate(path string) Report {
	dir, name := filepath.Split(path)
	dir = strings.TrimRight(dir, `/\`)
	r := Report{
		PathLength:     Length(path),
		NameLength:     Length(name),
		SafeLength:     p.SafePathLength(),
		ComponentLimit: p.ComponentLimit(),
	}
	r.EstimatedLength = Length(dir) + r.NameLength + EstimatedInnerPath
	r.PathTooLong = r.PathLength > r.SafeLength
	r.NameTooLong = r.NameLength > r.ComponentLimit
	r.EstimatedOverflow = r.EstimatedLength > r.SafeLength
	return r
}

// CheckArchiveCompatibility is a pre-flight test run before an archive is
// opened. It emits a Warning diagnostic and returns false on rejection. The
// estimate is coarse; the real inner paths are checked after enumeration.
func (p *Policy) CheckArchiveCompatibility(path string) bool {
	r := p.Evaluate(path)
	if r.OK() {
		return true
	}
	p.reporter.Report(diag.Warning, diag.For(path, "Path Compatibility").WithDetail(r.describe()))
	return false
}

func (r Report) describe() string {
	var parts []string
	if r.PathTooLong {
		parts = append(parts, fmt.Sprintf("archive path too long: %d chars (max %d)", r.PathLength, r.SafeLength))
	}
	if r.NameTooLong {
		parts = append(parts, fmt.Sprintf("archive filename too long: %d chars (max %d)", r.NameLength, r.ComponentLimit))
	}
	if r.EstimatedOverflow {
		parts = append(parts, fmt.Sprintf("estimated extraction path too long: %d chars (max %d)", r.EstimatedLength, r.SafeLength))
	}
	return strings.Join(parts, "; ")
}

// Length counts s in UTF-16 code units.
func Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
