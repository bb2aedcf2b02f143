package dtmodule

// Status classifies a tracked module against its remote counterpart.
// The names are part of the HTTP API; other modules rely on them being stable.
type Status string

const (
	StatusUnknown  Status = "UNKNOWN"
	StatusUpdated  Status = "UPDATED"
	StatusBehind   Status = "BEHIND"
	StatusAhead    Status = "AHEAD"
	StatusNotFound Status = "NOT_FOUND"
	StatusUpdating Status = "UPDATING"
	StatusError    Status = "ERROR"
)

// Solid reports whether the status is backed by a successful remote probe.
// Solid statuses are preserved across transient remote failures.
func (s Status) Solid() bool {
	return s == StatusUpdated || s == StatusBehind || s == StatusAhead
}

// Frozen reports whether the module is under exclusive custody of an
// updater. Frozen modules are exempt from removal and reclassification.
func (s Status) Frozen() bool {
	return s == StatusUpdating
}

// ContainerStatus is the state enum returned by the container status API.
type ContainerStatus string

const (
	ContainerNotFound   ContainerStatus = "NOTFOUND"
	ContainerUnknown    ContainerStatus = "UNKNOWN"
	ContainerCreated    ContainerStatus = "CREATED"
	ContainerRunning    ContainerStatus = "RUNNING"
	ContainerPaused     ContainerStatus = "PAUSED"
	ContainerRestarting ContainerStatus = "RESTARTING"
	ContainerRemoving   ContainerStatus = "REMOVING"
	ContainerExited     ContainerStatus = "EXITED"
	ContainerDead       ContainerStatus = "DEAD"
	ContainerRemoved    ContainerStatus = "REMOVED"
)

// ContainerStatusFromString maps a Docker state string onto the enum.
func ContainerStatusFromString(state string) ContainerStatus {
	switch state {
	case "created":
		return ContainerCreated
	case "running":
		return ContainerRunning
	case "paused":
		return ContainerPaused
	case "restarting":
		return ContainerRestarting
	case "removing":
		return ContainerRemoving
	case "exited":
		return ContainerExited
	case "dead":
		return ContainerDead
	}
	return ContainerUnknown
}

// Alive reports whether a launched container is still in a state the
// run-container worker should keep watching.
func (s ContainerStatus) Alive() bool {
	switch s {
	case ContainerUnknown, ContainerCreated, ContainerRunning, ContainerPaused, ContainerRestarting:
		return true
	}
	return false
}
