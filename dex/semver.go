// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"fmt"
	"strconv"
	"strings"
)

// Semver models a semantic version major.minor.patch
type Semver struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Patch uint32 `json:"patch"`
}

// NewSemver returns a new Semver with the version major.minor.patch
func NewSemver(major, minor, patch uint32) Semver {
	return Semver{major, minor, patch}
}

// ParseSemver parses a "major.minor.patch" string. A leading "v" is allowed.
func ParseSemver(s string) (Semver, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("invalid version %q", s)
	}
	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Semver{}, fmt.Errorf("invalid version component %q: %w", p, err)
		}
		nums[i] = uint32(n)
	}
	return Semver{nums[0], nums[1], nums[2]}, nil
}

// String formats the Semver as major.minor.patch (e.g. 1.2.3).
func (s Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}
