package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/runner"
)

var supportedContainerActions = map[string]bool{
	"start":   true,
	"restart": true,
	"stop":    true,
	"kill":    true,
	"pause":   true,
	"unpause": true,
}

// apiContainerStatus maps a container's runtime state onto the status enum.
func (s *Server) apiContainerStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	state, err := s.deps.Docker.ContainerState(r.Context(), name)
	var status dtmodule.ContainerStatus
	switch {
	case err == nil:
		status = dtmodule.ContainerStatusFromString(state)
	case docker.IsNotFound(err):
		status = dtmodule.ContainerNotFound
	default:
		status = dtmodule.ContainerUnknown
	}
	writeOK(w, map[string]string{"status": string(status)})
}

// apiContainerRun spawns a run-container worker for a module. The optional
// JSON body is a configuration overlay merged over the image configuration.
func (s *Server) apiContainerRun(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("module"), "/")

	mod, ok := s.module(name)
	if !ok {
		writeError(w, fmt.Sprintf("Module '%s' not found.", name))
		return
	}

	opts := runner.Options{
		Configuration: r.URL.Query().Get("configuration"),
		Launcher:      r.URL.Query().Get("launcher"),
		Name:          r.URL.Query().Get("name"),
	}
	// A missing or malformed body means no overlay.
	var overlay map[string]any
	if err := json.NewDecoder(r.Body).Decode(&overlay); err == nil {
		opts.Custom = overlay
	}

	job := s.deps.Runner.Start(s.baseCtx, mod, opts)
	writeOK(w, map[string]string{"job": job})
}

// apiContainerAction is the generic lifecycle passthrough:
// /container/{start|restart|stop|kill|pause|unpause}/{name}.
func (s *Server) apiContainerAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	name := r.PathValue("name")

	if !supportedContainerActions[action] {
		writeNotImplemented(w, action)
		return
	}

	cont, err := s.deps.Docker.FindContainerByName(r.Context(), name)
	if err != nil {
		if docker.IsNotFound(err) {
			writeError(w, fmt.Sprintf("Container `%s` not found", name))
			return
		}
		writeError(w, fmt.Sprintf("Could not look up container `%s`: %v", name, err))
		return
	}

	switch action {
	case "start":
		err = s.deps.Docker.StartContainer(r.Context(), cont.ID)
	case "restart":
		err = s.deps.Docker.RestartContainer(r.Context(), cont.ID)
	case "stop":
		err = s.deps.Docker.StopContainer(r.Context(), cont.ID, 30)
	case "kill":
		err = s.deps.Docker.KillContainer(r.Context(), cont.ID)
	case "pause":
		err = s.deps.Docker.PauseContainer(r.Context(), cont.ID)
	case "unpause":
		err = s.deps.Docker.UnpauseContainer(r.Context(), cont.ID)
	}
	if err != nil {
		s.deps.Log.Warn("container action failed", "action", action, "name", name, "error", err)
	}
	writeOK(w, map[string]any{})
}
