package updater

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testStack = `
version: "3"
services:
  car-interface:
    image: ${REGISTRY:-docker.io}/duckietown/foo:daffy-amd64
    restart: always
  camera:
    image: ${REGISTRY:-docker.io}/duckietown/camera:daffy-amd64
  dashboard:
    image: ${REGISTRY:-registry.example.org}/duckietown/foo:daffy-amd64
  mirror:
    image: docker.io/duckietown/foo:daffy-amd64
`

func writeStack(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "DB21M.yaml")
	if err := os.WriteFile(path, []byte(testStack), 0o644); err != nil {
		t.Fatalf("write stack: %v", err)
	}
	return path
}

func TestMatchingServices(t *testing.T) {
	path := writeStack(t)

	services, err := MatchingServices(path, "docker.io", "duckietown/foo:daffy-amd64")
	if err != nil {
		t.Fatalf("MatchingServices: %v", err)
	}
	// The REGISTRY placeholder always resolves to the configured registry,
	// so "dashboard" (declared default registry.example.org) matches too.
	want := []string{"car-interface", "dashboard", "mirror"}
	if !reflect.DeepEqual(services, want) {
		t.Errorf("services = %v, want %v", services, want)
	}
}

func TestMatchingServicesNoMatch(t *testing.T) {
	path := writeStack(t)

	services, err := MatchingServices(path, "docker.io", "duckietown/absent:daffy-amd64")
	if err != nil {
		t.Fatalf("MatchingServices: %v", err)
	}
	if len(services) != 0 {
		t.Errorf("services = %v, want none", services)
	}
}

func TestMatchingServicesMissingFile(t *testing.T) {
	if _, err := MatchingServices("/nonexistent/stack.yaml", "docker.io", "duckietown/foo:daffy-amd64"); err == nil {
		t.Error("missing stack file should fail")
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"${REGISTRY:-docker.io}/duckietown/foo:daffy-amd64", "docker.example.com/duckietown/foo:daffy-amd64"},
		{"${REGISTRY}/duckietown/foo:daffy-amd64", "docker.example.com/duckietown/foo:daffy-amd64"},
		{"${ARCH:-amd64}/image", "amd64/image"},
		{"plain/image:tag", "plain/image:tag"},
	}
	for _, tt := range tests {
		if got := substitutePlaceholders(tt.image, "docker.example.com"); got != tt.want {
			t.Errorf("substitutePlaceholders(%q) = %q, want %q", tt.image, got, tt.want)
		}
	}
}

func TestStackPath(t *testing.T) {
	if got := StackPath("/data/autoboot", "DB21M"); got != "/data/autoboot/DB21M.yaml" {
		t.Errorf("StackPath = %q", got)
	}
}
