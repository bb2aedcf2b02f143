package docker

import "strings"

// LabelDomain is the namespace all platform image/container labels live under.
const LabelDomain = "org.duckietown.label"

// ComposeLabelPrefix marks labels written by the compose tool; they are
// carried over when a container is recreated.
const ComposeLabelPrefix = "com.docker.compose."

// LauncherPrefix builds the entry command for a named launcher.
const LauncherPrefix = "dt-launcher-"

// Label returns the fully-qualified label key for a domain-relative key.
func Label(key string) string {
	return LabelDomain + "." + strings.TrimLeft(key, ".")
}

// Well-known label keys.
var (
	LabelAuthoritative   = Label("image.authoritative")
	LabelTime            = Label("time")
	LabelVersionHead     = Label("code.version.head")
	LabelVersionClosest  = Label("code.version.closest")
	LabelContainerConfig = Label("container.configuration")
	LabelContainerOwner  = Label("container.owner")
)

// ImageConfigLabel returns the label key holding the JSON run configuration
// with the given name.
func ImageConfigLabel(name string) string {
	return Label("image.configuration." + name)
}

// Launcher returns the container entry command for a launcher name.
func Launcher(name string) string {
	return LauncherPrefix + name
}

// PreservedLabels extracts from a container's labels the ones that must
// survive recreation: everything under the module container namespace and
// everything written by the compose tool.
func PreservedLabels(labels map[string]string) map[string]string {
	kept := make(map[string]string)
	for k, v := range labels {
		if strings.HasPrefix(k, Label("container.")) || strings.HasPrefix(k, ComposeLabelPrefix) {
			kept[k] = v
		}
	}
	return kept
}
