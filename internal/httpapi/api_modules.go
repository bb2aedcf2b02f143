package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/registry"
)

// module looks up a tracked module by name.
func (s *Server) module(name string) (*dtmodule.Module, bool) {
	v, err := s.deps.Registry.Get(registry.GroupModules, name)
	if err != nil {
		return nil, false
	}
	mod, ok := v.(*dtmodule.Module)
	return mod, ok
}

// modules returns a snapshot of all tracked modules keyed by name.
func (s *Server) modules() map[string]*dtmodule.Module {
	out := make(map[string]*dtmodule.Module)
	for _, e := range s.deps.Registry.Group(registry.GroupModules) {
		if mod, ok := e.Value.(*dtmodule.Module); ok {
			out[e.Key] = mod
		}
	}
	return out
}

// apiModulesInfo returns the nested label map of every tracked module.
func (s *Server) apiModulesInfo(w http.ResponseWriter, _ *http.Request) {
	data := make(map[string]any)
	for name, mod := range s.modules() {
		data[name] = labelsToNested(mod.Labels())
	}
	writeOK(w, data)
}

// labelsToNested explodes domain labels into a nested map:
// "org.duckietown.label.code.version.head" -> {code: {version: {head: v}}}.
func labelsToNested(labels map[string]string) map[string]any {
	data := make(map[string]any)
	prefix := docker.LabelDomain + "."
	for label, value := range labels {
		if !strings.HasPrefix(label, prefix) {
			continue
		}
		parts := strings.Split(label[len(prefix):], ".")
		cur := data
		for _, step := range parts[:len(parts)-1] {
			next, ok := cur[step].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[step] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = value
	}
	return data
}

// apiModulesStatus returns every module's status and versions. With
// force=1 a checker step runs first, under the checker's own mutual
// exclusion; step failures are logged and the stale view is returned.
func (s *Server) apiModulesStatus(w http.ResponseWriter, r *http.Request) {
	if truthy(r.URL.Query().Get("force")) {
		if err := s.deps.Checker.Step(r.Context()); err != nil {
			s.deps.Log.Error("forced checker step failed", "error", err)
		}
	}
	data := make(map[string]dtmodule.View)
	for name, mod := range s.modules() {
		data[name] = mod.View()
	}
	writeOK(w, data)
}

func needForceMessage(names []string) string {
	plural := ""
	if len(names) > 1 {
		plural = "s"
	}
	return fmt.Sprintf(
		"The local version of module%s `%s` is ahead of the remote version. "+
			"This is normal when the local version is a development version. "+
			"These updates need to be forced. Use the argument `force=1` to force the update.",
		plural, strings.Join(names, "`, `"))
}

// apiModuleUpdate spawns an updater for one module. AHEAD requires force=1.
func (s *Server) apiModuleUpdate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("name"), "/")
	forced := truthy(r.URL.Query().Get("force"))

	mod, ok := s.module(name)
	if !ok {
		writeError(w, fmt.Sprintf("Module '%s' not found.", name))
		return
	}

	switch mod.Status() {
	case dtmodule.StatusUpdating:
		// Already under an updater's custody; nothing to do.
		writeOK(w, map[string]any{})
		return
	case dtmodule.StatusBehind:
	case dtmodule.StatusAhead:
		if !forced {
			writeNeedForce(w, needForceMessage([]string{name}))
			return
		}
	default:
		writeError(w, fmt.Sprintf("Module '%s' does not seem to have an update available.", name))
		return
	}

	if _, err := s.deps.Updater.Start(s.baseCtx, mod); err != nil {
		// Lost the race against another request; the module is updating.
		writeOK(w, map[string]any{})
		return
	}
	writeOK(w, map[string]any{})
}

// apiModulesUpdateAll spawns updaters for every eligible module. Any AHEAD
// module blocks the whole request behind force=1.
func (s *Server) apiModulesUpdateAll(w http.ResponseWriter, r *http.Request) {
	forced := truthy(r.URL.Query().Get("force"))
	mods := s.modules()

	if !forced {
		var needForce []string
		for name, mod := range mods {
			if mod.Status() == dtmodule.StatusAhead {
				needForce = append(needForce, name)
			}
		}
		if len(needForce) > 0 {
			writeNeedForce(w, needForceMessage(needForce))
			return
		}
	}

	updating := make([]string, 0)
	for name, mod := range mods {
		switch mod.Status() {
		case dtmodule.StatusBehind, dtmodule.StatusAhead:
		default:
			continue
		}
		if _, err := s.deps.Updater.Start(s.baseCtx, mod); err != nil {
			continue
		}
		updating = append(updating, name)
	}
	writeOK(w, map[string]any{"updating": updating})
}

// apiModulesUpdateHistory returns the persisted audit trail of update jobs.
func (s *Server) apiModulesUpdateHistory(w http.ResponseWriter, _ *http.Request) {
	if s.deps.History == nil {
		writeNotImplemented(w, "update/history")
		return
	}
	records, err := s.deps.History.ListHistory(100)
	if err != nil {
		writeError(w, fmt.Sprintf("Could not read update history: %v", err))
		return
	}
	writeOK(w, map[string]any{"history": records})
}
