package imageindex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
)

func TestFetchOK(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"labels": {
				"org.duckietown.label.time": "2024-05-01T10:00:00.000000",
				"org.duckietown.label.code.version.head": "v1"
			},
			"image": {"Created": "2024-05-01T10:00:01.000000000Z"}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New(false, false))
	remote, err := c.Fetch(context.Background(), "docker.io", "duckietown/dt-core", "daffy-amd64")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := "/docker/image/docker.io/duckietown/dt-core/daffy-amd64/latest.json"
	if gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if remote.Labels["org.duckietown.label.code.version.head"] != "v1" {
		t.Errorf("labels = %v", remote.Labels)
	}
	if remote.Created == "" {
		t.Error("Created should be populated")
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New(false, false))
	_, err := c.Fetch(context.Background(), "docker.io", "duckietown/ghost", "daffy-amd64")
	if !errors.Is(err, dtmodule.ErrNotFound) {
		t.Errorf("Fetch = %v, want ErrNotFound", err)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New(false, false))
	_, err := c.Fetch(context.Background(), "docker.io", "duckietown/dt-core", "daffy-amd64")
	if !errors.Is(err, dtmodule.ErrRemoteUnavailable) {
		t.Errorf("Fetch = %v, want ErrRemoteUnavailable", err)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	c := New(srv.URL, logging.New(false, false))
	_, err := c.Fetch(context.Background(), "docker.io", "duckietown/dt-core", "daffy-amd64")
	if !errors.Is(err, dtmodule.ErrRemoteUnavailable) {
		t.Errorf("Fetch = %v, want ErrRemoteUnavailable", err)
	}
}

func TestFetchMalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New(false, false))
	_, err := c.Fetch(context.Background(), "docker.io", "duckietown/dt-core", "daffy-amd64")
	if !errors.Is(err, dtmodule.ErrParse) {
		t.Errorf("Fetch = %v, want ErrParse", err)
	}
}
