// Package buildinfo holds build-time metadata injected through -ldflags.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// Info is the version metadata of a binary.
type Info struct {
	Version   string
	BuildDate string
}

// New returns Info with empty fields replaced by UnknownValue.
func New(version, buildDate string) Info {
	return Info{
		Version:   orUnknown(version),
		BuildDate: orUnknown(buildDate),
	}
}

// Release is the identifier used for error reports, "ikancheck@<version>".
func (i Info) Release() string {
	return "ikancheck@" + orUnknown(i.Version)
}

func (i Info) String() string {
	return fmt.Sprintf("IkanCheck %s (built %s)", orUnknown(i.Version), orUnknown(i.BuildDate))
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
