package version

import (
	"fmt"
)

// versionChar encodes 0-9 as digits and 10 and up as letters from 'A'.
func versionChar(v int) rune {
	switch {
	case v >= 0 && v < 10:
		return rune('0' + v)
	case v >= 10 && v < 36:
		return rune('A' + (v - 10))
	default:
		panic(fmt.Sprintf("version number %d out of range for fingerprint", v))
	}
}

// Fingerprint builds an Azureus style peer ID prefix, such as "-PS0100-".
func Fingerprint(name string, major, minor, revision, tag int) string {
	if len(name) < 2 {
		name = "--"
	}
	return fmt.Sprintf("-%c%c%c%c%c%c-",
		name[0],
		name[1],
		versionChar(major),
		versionChar(minor),
		versionChar(revision),
		versionChar(tag),
	)
}
