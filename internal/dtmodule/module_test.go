package dtmodule

import (
	"errors"
	"testing"

	"github.com/duckietown/dt-code-api/internal/docker"
)

func testModule(t *testing.T) *Module {
	t.Helper()
	mod, err := New("duckietown/dt-core:daffy-amd64", "sha256:abc", map[string]string{
		docker.LabelVersionHead:    "v2.1.0",
		docker.LabelVersionClosest: "v2.1",
		docker.LabelTime:           "2024-05-01T10:00:00.000000",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mod
}

func TestNewParsesReference(t *testing.T) {
	mod := testModule(t)
	if mod.Name() != "dt-core" {
		t.Errorf("Name = %q, want dt-core", mod.Name())
	}
	if mod.Repository() != "duckietown/dt-core" {
		t.Errorf("Repository = %q", mod.Repository())
	}
	if mod.Tag() != "daffy-amd64" {
		t.Errorf("Tag = %q", mod.Tag())
	}
	if mod.Ref() != "duckietown/dt-core:daffy-amd64" {
		t.Errorf("Ref = %q", mod.Ref())
	}
}

func TestNewRejectsBadReferences(t *testing.T) {
	for _, ref := range []string{"duckietown/dt-core", "dt-core:daffy-amd64", ":", "x:"} {
		if _, err := New(ref, "id", nil); !errors.Is(err, ErrParse) {
			t.Errorf("New(%q) = %v, want ErrParse", ref, err)
		}
	}
}

func TestResetRestoresLocalState(t *testing.T) {
	mod := testModule(t)
	mod.SetRemoteVersions("v3.0.0", "v3.0")
	mod.SetStatus(StatusBehind)
	mod.SetProgress("Pulling image", 42)

	mod.Reset()

	if mod.Status() != StatusUnknown {
		t.Errorf("Status after Reset = %s, want UNKNOWN", mod.Status())
	}
	localHead, localClosest, remoteHead, remoteClosest := mod.Versions()
	if localHead != "v2.1.0" || localClosest != "v2.1" {
		t.Errorf("local versions = %q/%q, want v2.1.0/v2.1", localHead, localClosest)
	}
	if remoteHead != VersionND || remoteClosest != VersionND {
		t.Errorf("remote versions = %q/%q, want ND/ND", remoteHead, remoteClosest)
	}
	if _, set := mod.Progress(); set {
		t.Error("progress should be cleared by Reset")
	}
	if mod.Step() != "" {
		t.Errorf("step = %q, want empty", mod.Step())
	}
}

func TestMissingVersionLabelsAreND(t *testing.T) {
	mod, err := New("duckietown/foo:daffy-amd64", "id", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	localHead, localClosest, _, _ := mod.Versions()
	if localHead != VersionND || localClosest != VersionND {
		t.Errorf("local versions = %q/%q, want ND/ND", localHead, localClosest)
	}
	if mod.LocalTime() != VersionND {
		t.Errorf("LocalTime = %q, want ND", mod.LocalTime())
	}
}

func TestBeginUpdateRefusesConcurrent(t *testing.T) {
	mod := testModule(t)
	if err := mod.BeginUpdate(); err != nil {
		t.Fatalf("first BeginUpdate: %v", err)
	}
	if mod.Status() != StatusUpdating {
		t.Errorf("Status = %s, want UPDATING", mod.Status())
	}
	if err := mod.BeginUpdate(); !errors.Is(err, ErrConcurrentState) {
		t.Errorf("second BeginUpdate = %v, want ErrConcurrentState", err)
	}
}

func TestFinishUpdateTerminals(t *testing.T) {
	mod := testModule(t)
	_ = mod.BeginUpdate()
	mod.SetProgress("Finished", 100)
	mod.FinishUpdate(true, "")
	if mod.Status() != StatusUpdated {
		t.Errorf("Status = %s, want UPDATED", mod.Status())
	}
	if _, set := mod.Progress(); set {
		t.Error("progress should be cleared on success")
	}

	_ = mod.BeginUpdate()
	mod.FinishUpdate(false, "pull failed")
	if mod.Status() != StatusError {
		t.Errorf("Status = %s, want ERROR", mod.Status())
	}
	if mod.Step() != "pull failed" {
		t.Errorf("Step = %q, want failure message", mod.Step())
	}
}

func TestViewProgressOnlyWhileUpdating(t *testing.T) {
	mod := testModule(t)
	if v := mod.View(); v.Progress != nil {
		t.Error("progress should be absent while not updating")
	}

	_ = mod.BeginUpdate()
	mod.SetProgress("Pulling image", 37)
	v := mod.View()
	if v.Progress == nil || *v.Progress != 37 {
		t.Errorf("View.Progress = %v, want 37", v.Progress)
	}
	if v.Status != "UPDATING" {
		t.Errorf("View.Status = %q, want UPDATING", v.Status)
	}
	if v.StatusTxt != "Pulling image" {
		t.Errorf("View.StatusTxt = %q", v.StatusTxt)
	}
}

func TestStatusClasses(t *testing.T) {
	tests := []struct {
		status Status
		solid  bool
		frozen bool
	}{
		{StatusUnknown, false, false},
		{StatusUpdated, true, false},
		{StatusBehind, true, false},
		{StatusAhead, true, false},
		{StatusNotFound, false, false},
		{StatusUpdating, false, true},
		{StatusError, false, false},
	}
	for _, tt := range tests {
		if tt.status.Solid() != tt.solid {
			t.Errorf("%s.Solid() = %t, want %t", tt.status, tt.status.Solid(), tt.solid)
		}
		if tt.status.Frozen() != tt.frozen {
			t.Errorf("%s.Frozen() = %t, want %t", tt.status, tt.status.Frozen(), tt.frozen)
		}
	}
}

func TestParseBuildTimeLenient(t *testing.T) {
	bare, err := ParseBuildTime("2024-05-01T10:00:00.000000")
	if err != nil {
		t.Fatalf("bare format: %v", err)
	}
	zoned, err := ParseBuildTime("2024-05-01T10:00:00Z")
	if err != nil {
		t.Fatalf("RFC3339 format: %v", err)
	}
	// Both formats name the same absolute instant.
	if !bare.Equal(zoned) {
		t.Errorf("instants differ: %s vs %s", bare, zoned)
	}

	if _, err := ParseBuildTime("ND"); !errors.Is(err, ErrParse) {
		t.Errorf("ParseBuildTime(ND) = %v, want ErrParse", err)
	}
	if _, err := ParseBuildTime(""); !errors.Is(err, ErrParse) {
		t.Errorf("ParseBuildTime(empty) = %v, want ErrParse", err)
	}
}

func TestContainerStatusFromString(t *testing.T) {
	tests := []struct {
		state string
		want  ContainerStatus
	}{
		{"created", ContainerCreated},
		{"running", ContainerRunning},
		{"paused", ContainerPaused},
		{"restarting", ContainerRestarting},
		{"removing", ContainerRemoving},
		{"exited", ContainerExited},
		{"dead", ContainerDead},
		{"something-else", ContainerUnknown},
	}
	for _, tt := range tests {
		if got := ContainerStatusFromString(tt.state); got != tt.want {
			t.Errorf("ContainerStatusFromString(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestContainerStatusAlive(t *testing.T) {
	alive := []ContainerStatus{ContainerUnknown, ContainerCreated, ContainerRunning, ContainerPaused, ContainerRestarting}
	for _, s := range alive {
		if !s.Alive() {
			t.Errorf("%s.Alive() = false, want true", s)
		}
	}
	done := []ContainerStatus{ContainerExited, ContainerDead, ContainerRemoved, ContainerNotFound, ContainerRemoving}
	for _, s := range done {
		if s.Alive() {
			t.Errorf("%s.Alive() = true, want false", s)
		}
	}
}
