package dtmodule

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/duckietown/dt-code-api/internal/docker"
)

// VersionND is the sentinel for version and time strings that are not
// available: label missing locally, or remote not probed yet.
const VersionND = "ND"

// Module is a tracked authoritative image. All mutable fields are guarded
// by the record's mutex and mutated only through setters; workers hold a
// reference for the duration of a step, never a long-lived copy.
type Module struct {
	repository string
	tag        string
	imageID    string

	mu            sync.Mutex
	labels        map[string]string
	localHead     string
	localClosest  string
	remoteHead    string
	remoteClosest string
	status        Status
	step          string
	progress      int
	hasProgress   bool
}

// New creates a Module from an image reference of the form "org/name:tag"
// and the underlying image's identity and labels.
func New(ref, imageID string, labels map[string]string) (*Module, error) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return nil, fmt.Errorf("image reference %q has no tag: %w", ref, ErrParse)
	}
	repository, tag := ref[:i], ref[i+1:]
	if !strings.Contains(repository, "/") {
		return nil, fmt.Errorf("image reference %q has no organization: %w", ref, ErrParse)
	}
	m := &Module{
		repository: repository,
		tag:        tag,
		imageID:    imageID,
		labels:     maps.Clone(labels),
	}
	m.Reset()
	return m, nil
}

// Name is the short module name: the second segment of the repository path.
func (m *Module) Name() string {
	parts := strings.SplitN(m.repository, "/", 2)
	return parts[len(parts)-1]
}

// Repository returns the image repository, e.g. "duckietown/dt-core".
func (m *Module) Repository() string { return m.repository }

// Tag returns the image tag, e.g. "daffy-amd64".
func (m *Module) Tag() string { return m.tag }

// Ref returns the full image reference "repository:tag".
func (m *Module) Ref() string { return m.repository + ":" + m.tag }

// ImageID returns the identity of the underlying image.
func (m *Module) ImageID() string { return m.imageID }

// Labels returns a copy of the underlying image's labels.
func (m *Module) Labels() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.labels)
}

// Label returns a single label value, or "" when absent.
func (m *Module) Label(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labels[key]
}

// LocalTime returns the image's build-time label value, or "ND" when absent.
func (m *Module) LocalTime() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.labels[docker.LabelTime]; ok {
		return v
	}
	return VersionND
}

// Status returns the current status (thread-safe).
func (m *Module) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetStatus updates the status (thread-safe).
func (m *Module) SetStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// BeginUpdate transitions the module to UPDATING, giving the caller
// exclusive custody. Fails when another updater already holds it.
func (m *Module) BeginUpdate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusUpdating {
		return fmt.Errorf("module %s is already updating: %w", m.Name(), ErrConcurrentState)
	}
	m.status = StatusUpdating
	m.step = ""
	m.progress = 0
	m.hasProgress = true
	return nil
}

// SetProgress records the updater's current substep and progress.
func (m *Module) SetProgress(step string, progress int) {
	m.mu.Lock()
	m.step = step
	m.progress = progress
	m.hasProgress = true
	m.mu.Unlock()
}

// Progress returns the current progress and whether one is set.
func (m *Module) Progress() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress, m.hasProgress
}

// Step returns the current human-readable substep.
func (m *Module) Step() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// FinishUpdate records the terminal outcome of an update job. On success
// the module becomes UPDATED and progress is cleared; on failure it becomes
// ERROR with the failure message as its step.
func (m *Module) FinishUpdate(ok bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.status = StatusUpdated
		m.step = ""
		m.hasProgress = false
		return
	}
	m.status = StatusError
	m.step = message
	m.hasProgress = false
}

// SetRemoteVersions records the version labels read from the remote index.
func (m *Module) SetRemoteVersions(head, closest string) {
	m.mu.Lock()
	if head == "" {
		head = VersionND
	}
	if closest == "" {
		closest = VersionND
	}
	m.remoteHead = head
	m.remoteClosest = closest
	m.mu.Unlock()
}

// Versions returns (localHead, localClosest, remoteHead, remoteClosest).
func (m *Module) Versions() (string, string, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localHead, m.localClosest, m.remoteHead, m.remoteClosest
}

// Reset restores local versions from the underlying image labels, clears
// remote versions to "ND", clears progress and step, and sets the status
// back to UNKNOWN so the next checker pass reclassifies the module.
func (m *Module) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localHead = labelOrND(m.labels, docker.LabelVersionHead)
	m.localClosest = labelOrND(m.labels, docker.LabelVersionClosest)
	m.remoteHead = VersionND
	m.remoteClosest = VersionND
	m.step = ""
	m.progress = 0
	m.hasProgress = false
	m.status = StatusUnknown
}

// View is the JSON shape of a module in the status API.
type View struct {
	Status    string   `json:"status"`
	StatusTxt string   `json:"status_txt"`
	Version   Versions `json:"version"`
	Progress  *int     `json:"progress,omitempty"`
}

// Versions groups local and remote version pairs for the status API.
type Versions struct {
	Local  VersionPair `json:"local"`
	Remote VersionPair `json:"remote"`
}

// VersionPair is a head/closest version couple.
type VersionPair struct {
	Head    string `json:"head"`
	Closest string `json:"closest"`
}

// View returns a consistent snapshot of the module for the HTTP API.
// Progress is included only while the module is UPDATING.
func (m *Module) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{
		Status:    string(m.status),
		StatusTxt: m.step,
		Version: Versions{
			Local:  VersionPair{Head: m.localHead, Closest: m.localClosest},
			Remote: VersionPair{Head: m.remoteHead, Closest: m.remoteClosest},
		},
	}
	if m.status == StatusUpdating && m.hasProgress {
		p := m.progress
		v.Progress = &p
	}
	return v
}

func labelOrND(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return VersionND
}
