package protocol

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// Compatibility classifies the difference between two API versions.
type Compatibility int

const (
	Compatible Compatibility = iota
	PatchMismatch
	MinorMismatch
	MajorMismatch
)

func (c Compatibility) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case PatchMismatch:
		return "patch mismatch"
	case MinorMismatch:
		return "minor mismatch"
	case MajorMismatch:
		return "major mismatch"
	}
	return fmt.Sprintf("Compatibility(%d)", int(c))
}

// CheckVersion compares the major, minor and patch segments of two API versions.
func CheckVersion(local, remote string) (Compatibility, error) {
	lv, err := goversion.NewVersion(local)
	if err != nil {
		return Compatible, fmt.Errorf("parse local version %q: %w", local, err)
	}
	rv, err := goversion.NewVersion(remote)
	if err != nil {
		return Compatible, fmt.Errorf("parse remote version %q: %w", remote, err)
	}

	ls, rs := lv.Segments(), rv.Segments()
	switch {
	case ls[0] != rs[0]:
		return MajorMismatch, nil
	case ls[1] != rs[1]:
		return MinorMismatch, nil
	case ls[2] != rs[2]:
		return PatchMismatch, nil
	}
	return Compatible, nil
}
