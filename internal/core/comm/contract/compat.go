package contract

import version "github.com/hashicorp/go-version"

// CompatibilityLevel classifies the distance between an offered version and
// a required minimum.
type CompatibilityLevel uint8

const (
	// Patch: same major and minor, only the patch component differs.
	Patch CompatibilityLevel = iota
	// Minor: same major, the provider offers a newer minor.
	Minor
	// Major: adjacent major versions; migration is expected to be possible.
	Major
	// Breaking: majors differ by more than one, or the offer is older than
	// the requirement.
	Breaking
)

func (l CompatibilityLevel) String() string {
	switch l {
	case Patch:
		return "patch"
	case Minor:
		return "minor"
	case Major:
		return "major"
	default:
		return "breaking"
	}
}

// Compatible reports whether an offered version satisfies a required
// minimum: same major, and minor not below the requested one.
func Compatible(have, want *version.Version) bool {
	hs, ws := have.Segments(), want.Segments()
	if hs[0] != ws[0] {
		return false
	}
	if hs[1] != ws[1] {
		return hs[1] > ws[1]
	}
	return hs[2] >= ws[2]
}

// CompatibilityOf classifies have against want.
func CompatibilityOf(have, want *version.Version) CompatibilityLevel {
	hs, ws := have.Segments(), want.Segments()
	switch {
	case hs[0] == ws[0] && hs[1] == ws[1]:
		return Patch
	case hs[0] == ws[0]:
		return Minor
	case hs[0] == ws[0]+1 || ws[0] == hs[0]+1:
		return Major
	default:
		return Breaking
	}
}
