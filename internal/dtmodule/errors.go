package dtmodule

import "errors"

// Error kinds surfaced by the tracker and its workers. Callers match with
// errors.Is; the HTTP layer maps them onto response envelopes.
var (
	// ErrNotFound means a module, container, or tag is absent.
	ErrNotFound = errors.New("not found")
	// ErrRemoteUnavailable means the remote index fetch failed.
	ErrRemoteUnavailable = errors.New("remote index unavailable")
	// ErrParse means a label or build time could not be parsed.
	ErrParse = errors.New("parse error")
	// ErrConfigurationMissing means no matching image.configuration label exists.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrRuntime means a container-runtime API call failed.
	ErrRuntime = errors.New("container runtime error")
	// ErrConcurrentState means the operation was refused because the target
	// is UPDATING or another container holds the requested name.
	ErrConcurrentState = errors.New("conflicting concurrent state")
)
