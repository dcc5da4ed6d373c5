// Package buildinfo carries build-time metadata separate from user configuration.
package buildinfo

import "strings"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Info holds build-time metadata. It is set once at startup from ldflags.
type Info struct {
	// Version holds the Git version tag from build
	Version string
	// BuildDate is the time when the binary was built
	BuildDate string
}

// New returns build metadata, substituting UnknownValue for empty fields.
func New(version, buildDate string) Info {
	return Info{Version: orUnknown(version), BuildDate: orUnknown(buildDate)}
}

// Release is the Sentry release name.
func (i Info) Release() string {
	return "nailong-guard@" + strings.TrimPrefix(orUnknown(i.Version), "v")
}

// UserAgent extends base with the version, e.g. "nailong-guard/1.2.0".
func (i Info) UserAgent(base string) string {
	if base == "" {
		base = "nailong-guard"
	}
	if i.Version == "" || i.Version == UnknownValue || strings.Contains(base, "/") {
		return base
	}
	return base + "/" + strings.TrimPrefix(i.Version, "v")
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
