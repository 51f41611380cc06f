package idl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is the major.minor interface version.
type Version struct {
	Major uint16
	Minor uint16
}

// ParseVersion parses "major.minor" or a bare major number.
func ParseVersion(s string) (Version, error) {
	major, minor, found := strings.Cut(strings.TrimSpace(s), ".")
	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	v := Version{Major: uint16(maj)}
	if found {
		mn, err := strconv.ParseUint(minor, 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("parse version %q: %w", s, err)
		}
		v.Minor = uint16(mn)
	}
	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Packed returns the version in the engine's u32 form: major in the low
// half, minor in the high half.
func (v Version) Packed() uint32 {
	return uint32(v.Major) | uint32(v.Minor)<<16
}

// UnpackVersion is the inverse of Packed.
func UnpackVersion(p uint32) Version {
	return Version{Major: uint16(p), Minor: uint16(p >> 16)}
}

// Compatible reports whether a client built against v can call a server
// exposing version server: same major, server minor at least v's minor.
func (v Version) Compatible(server Version) bool {
	c, err := semver.NewConstraint(fmt.Sprintf(">= %d.%d.0, < %d.0.0", v.Major, v.Minor, uint32(v.Major)+1))
	if err != nil {
		return false
	}
	sv, err := semver.NewVersion(fmt.Sprintf("%d.%d.0", server.Major, server.Minor))
	if err != nil {
		return false
	}
	return c.Check(sv)
}
