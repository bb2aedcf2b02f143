package config

import "fmt"

// canonicalArch maps architecture names as reported by the Docker endpoint
// (or the Go runtime) onto the three platform build targets.
var canonicalArch = map[string]string{
	"arm":      "arm32v7",
	"arm32v7":  "arm32v7",
	"armv7l":   "arm32v7",
	"armhf":    "arm32v7",
	"x64":      "amd64",
	"x86_64":   "amd64",
	"amd64":    "amd64",
	"Intel 64": "amd64",
	"aarch64":  "arm64v8",
	"arm64":    "arm64v8",
	"arm64v8":  "arm64v8",
	"armv8":    "arm64v8",
}

// CanonicalArch resolves a reported architecture to one of amd64, arm32v7,
// arm64v8. An unknown architecture is a startup-fatal error: the tag pattern
// that gates module tracking cannot be built without it.
func CanonicalArch(reported string) (string, error) {
	if arch, ok := canonicalArch[reported]; ok {
		return arch, nil
	}
	return "", fmt.Errorf("architecture %q not supported", reported)
}
