package repo

import (
	"fmt"
	"strconv"
	"strings"
)

// BumpKind selects which semver component a version bump increments.
type BumpKind string

const (
	BumpPatch BumpKind = "patch"
	BumpMinor BumpKind = "minor"
	BumpMajor BumpKind = "major"
)

// parseSemver splits "1.2.3" into its components.
func parseSemver(v string) (major, minor, patch int, err error) {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("repo: version %q is not major.minor.patch", v)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("repo: version %q has non-numeric component %q", v, p)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// Bump increments a semver string. An unparsable version resets to 1.0.0.
func Bump(v string, kind BumpKind) string {
	major, minor, patch, err := parseSemver(v)
	if err != nil {
		return "1.0.0"
	}
	switch kind {
	case BumpMajor:
		return fmt.Sprintf("%d.0.0", major+1)
	case BumpMinor:
		return fmt.Sprintf("%d.%d.0", major, minor+1)
	default:
		return fmt.Sprintf("%d.%d.%d", major, minor, patch+1)
	}
}

// CompareVersions orders two semver strings: -1, 0, or 1.
func CompareVersions(a, b string) int {
	am, an, ap, errA := parseSemver(a)
	bm, bn, bp, errB := parseSemver(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	for _, pair := range [][2]int{{am, bm}, {an, bn}, {ap, bp}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}
