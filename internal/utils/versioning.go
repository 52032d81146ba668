package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// semVerRegex matches firmware builds such as 1.4.2, v1.4.2 or 1.4.2-rc.1+esp32
var semVerRegex = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`)

// ErrInvalidVersion is returned for firmware strings that are not semantic versions
var ErrInvalidVersion = errors.New("invalid semantic version format")

// FirmwareVersion is a parsed device firmware build
type FirmwareVersion struct {
	Major      uint
	Minor      uint
	Patch      uint
	PreRelease string
	Build      string
}

// ParseFirmwareVersion parses the version a device reports in its heartbeat
func ParseFirmwareVersion(version string) (*FirmwareVersion, error) {
	m := semVerRegex.FindStringSubmatch(strings.TrimSpace(version))
	if m == nil {
		return nil, errors.Wrapf(ErrInvalidVersion, "%q", version)
	}

	parts := make([]uint, 3)
	for i := range parts {
		n, err := strconv.ParseUint(m[i+1], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse version component %d", i)
		}
		parts[i] = uint(n)
	}

	return &FirmwareVersion{
		Major:      parts[0],
		Minor:      parts[1],
		Patch:      parts[2],
		PreRelease: m[4],
		Build:      m[5],
	}, nil
}

func (v *FirmwareVersion) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Compare returns -1, 0 or 1. Build metadata does not affect precedence.
func (v *FirmwareVersion) Compare(o *FirmwareVersion) int {
	if c := compareUint(v.Major, o.Major); c != 0 {
		return c
	}
	if c := compareUint(v.Minor, o.Minor); c != 0 {
		return c
	}
	if c := compareUint(v.Patch, o.Patch); c != 0 {
		return c
	}

	// A release outranks its own pre-releases
	switch {
	case v.PreRelease == o.PreRelease:
		return 0
	case v.PreRelease == "":
		return 1
	case o.PreRelease == "":
		return -1
	}
	return comparePreRelease(v.PreRelease, o.PreRelease)
}

func comparePreRelease(a, b string) int {
	ap, bp := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(ap) && i < len(bp); i++ {
		an, aErr := strconv.Atoi(ap[i])
		bn, bErr := strconv.Atoi(bp[i])
		aNum, bNum := aErr == nil, bErr == nil

		switch {
		case aNum && !bNum:
			return -1
		case !aNum && bNum:
			return 1
		case aNum && bNum:
			if an != bn {
				return compareInt(an, bn)
			}
		default:
			if c := strings.Compare(ap[i], bp[i]); c != 0 {
				return c
			}
		}
	}
	return compareInt(len(ap), len(bp))
}

func compareUint(a, b uint) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FirmwareChange classifies a reported firmware change
type FirmwareChange string

const (
	FirmwareUpgrade   FirmwareChange = "UPGRADE"
	FirmwareDowngrade FirmwareChange = "DOWNGRADE"
	FirmwareRebuild   FirmwareChange = "REBUILD"
	FirmwareUnknown   FirmwareChange = "UNKNOWN"
)

// ClassifyFirmwareChange compares the stored and the newly reported firmware.
// Versions that do not parse are reported as UNKNOWN rather than rejected.
func ClassifyFirmwareChange(previous, current string) FirmwareChange {
	prev, err := ParseFirmwareVersion(previous)
	if err != nil {
		return FirmwareUnknown
	}
	curr, err := ParseFirmwareVersion(current)
	if err != nil {
		return FirmwareUnknown
	}

	switch curr.Compare(prev) {
	case 1:
		return FirmwareUpgrade
	case -1:
		return FirmwareDowngrade
	}
	return FirmwareRebuild
}
