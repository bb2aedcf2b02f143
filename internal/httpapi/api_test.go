package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
	"github.com/duckietown/dt-code-api/internal/registry"
	"github.com/duckietown/dt-code-api/internal/runner"
)

type fakeChecker struct {
	steps int
}

func (f *fakeChecker) Step(context.Context) error {
	f.steps++
	return nil
}

type fakeUpdater struct {
	started []string
	err     error
}

func (f *fakeUpdater) Start(_ context.Context, mod *dtmodule.Module) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, mod.Name())
	return "UpdateModuleJob[" + mod.Name() + "][test]", nil
}

type fakeRunner struct {
	opts runner.Options
}

func (f *fakeRunner) Start(_ context.Context, mod *dtmodule.Module, opts runner.Options) string {
	f.opts = opts
	return "RunContainerJob[" + mod.Name() + "][test]"
}

type fakeDocker struct {
	docker.API
	states map[string]string
}

func (f *fakeDocker) ContainerState(_ context.Context, name string) (string, error) {
	if s, ok := f.states[name]; ok {
		return s, nil
	}
	return "", fmt.Errorf("container %q: %w", name, cerrdefs.ErrNotFound)
}

type testEnv struct {
	server  *Server
	reg     *registry.Registry
	checker *fakeChecker
	updater *fakeUpdater
	runner  *fakeRunner
	docker  *fakeDocker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		reg:     registry.New(),
		checker: &fakeChecker{},
		updater: &fakeUpdater{},
		runner:  &fakeRunner{},
		docker:  &fakeDocker{states: make(map[string]string)},
	}
	env.server = NewServer(context.Background(), Dependencies{
		Registry: env.reg,
		Checker:  env.checker,
		Updater:  env.updater,
		Runner:   env.runner,
		Docker:   env.docker,
		Log:      logging.New(false, false),
	})
	return env
}

func (e *testEnv) addModule(t *testing.T, name string, status dtmodule.Status) *dtmodule.Module {
	t.Helper()
	mod, err := dtmodule.New("duckietown/"+name+":daffy-amd64", "sha256:"+name, nil)
	if err != nil {
		t.Fatalf("New module: %v", err)
	}
	mod.SetStatus(status)
	e.reg.Set(registry.GroupModules, name, mod)
	return mod
}

func (e *testEnv) get(t *testing.T, path string) envelopeResult {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: HTTP %d", path, rec.Code)
	}
	var env envelopeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("GET %s: bad envelope: %v", path, err)
	}
	return env
}

type envelopeResult struct {
	Status  string          `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	res := env.get(t, "/version")
	if res.Status != "ok" {
		t.Fatalf("status = %q", res.Status)
	}
	var data map[string]string
	_ = json.Unmarshal(res.Data, &data)
	if data["version"] != APIVersion {
		t.Errorf("version = %q, want %q", data["version"], APIVersion)
	}
}

func TestModulesStatusForceStepsChecker(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "foo", dtmodule.StatusUpdated)

	res := env.get(t, "/modules/status")
	if env.checker.steps != 0 {
		t.Error("force=0 must not step the checker")
	}
	var data map[string]dtmodule.View
	_ = json.Unmarshal(res.Data, &data)
	if data["foo"].Status != "UPDATED" {
		t.Errorf("foo.status = %q", data["foo"].Status)
	}

	env.get(t, "/modules/status?force=1")
	if env.checker.steps != 1 {
		t.Errorf("checker steps = %d, want 1", env.checker.steps)
	}
}

func TestModuleUpdateNotFound(t *testing.T) {
	env := newTestEnv(t)
	res := env.get(t, "/module/update/ghost")
	if res.Status != "error" {
		t.Errorf("status = %q, want error", res.Status)
	}
}

func TestModuleUpdateAheadRequiresForce(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "foo", dtmodule.StatusAhead)

	res := env.get(t, "/module/update/foo")
	if res.Status != "need-force" {
		t.Fatalf("status = %q, want need-force", res.Status)
	}
	if len(env.updater.started) != 0 {
		t.Error("updater must not start without force")
	}

	res = env.get(t, "/module/update/foo?force=1")
	if res.Status != "ok" {
		t.Fatalf("status = %q, want ok", res.Status)
	}
	if len(env.updater.started) != 1 || env.updater.started[0] != "foo" {
		t.Errorf("started = %v, want [foo]", env.updater.started)
	}
}

func TestModuleUpdateBehindStartsWithoutForce(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "foo", dtmodule.StatusBehind)

	res := env.get(t, "/module/update/foo")
	if res.Status != "ok" {
		t.Fatalf("status = %q", res.Status)
	}
	if len(env.updater.started) != 1 {
		t.Errorf("started = %v", env.updater.started)
	}
}

func TestModuleUpdateNoUpdateAvailable(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "foo", dtmodule.StatusUpdated)

	res := env.get(t, "/module/update/foo")
	if res.Status != "error" {
		t.Errorf("status = %q, want error", res.Status)
	}
}

func TestModuleUpdateAlreadyUpdatingIsOK(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "foo", dtmodule.StatusUpdating)

	res := env.get(t, "/module/update/foo")
	if res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}
	if len(env.updater.started) != 0 {
		t.Error("no second updater may start")
	}
}

func TestModulesUpdateAll(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "behind", dtmodule.StatusBehind)
	env.addModule(t, "ahead", dtmodule.StatusAhead)
	env.addModule(t, "fresh", dtmodule.StatusUpdated)

	// One AHEAD module gates the whole request.
	res := env.get(t, "/modules/update/all")
	if res.Status != "need-force" {
		t.Fatalf("status = %q, want need-force", res.Status)
	}

	res = env.get(t, "/modules/update/all?force=1")
	if res.Status != "ok" {
		t.Fatalf("status = %q", res.Status)
	}
	var data struct {
		Updating []string `json:"updating"`
	}
	_ = json.Unmarshal(res.Data, &data)
	if len(data.Updating) != 2 {
		t.Errorf("updating = %v, want behind+ahead", data.Updating)
	}
}

func TestModulesInfoNestsLabels(t *testing.T) {
	env := newTestEnv(t)
	mod, _ := dtmodule.New("duckietown/foo:daffy-amd64", "sha256:x", map[string]string{
		docker.LabelVersionHead: "v1",
		"other.domain.key":      "hidden",
	})
	env.reg.Set(registry.GroupModules, "foo", mod)

	res := env.get(t, "/modules/info")
	var data map[string]map[string]any
	_ = json.Unmarshal(res.Data, &data)
	code, ok := data["foo"]["code"].(map[string]any)
	if !ok {
		t.Fatalf("nested map missing: %v", data)
	}
	version := code["version"].(map[string]any)
	if version["head"] != "v1" {
		t.Errorf("code.version.head = %v", version["head"])
	}
	if _, ok := data["foo"]["other"]; ok {
		t.Error("labels outside the domain must not appear")
	}
}

func TestContainerStatus(t *testing.T) {
	env := newTestEnv(t)
	env.docker.states["bar"] = "exited"

	res := env.get(t, "/container/status/bar")
	var data map[string]string
	_ = json.Unmarshal(res.Data, &data)
	if data["status"] != "EXITED" {
		t.Errorf("status = %q, want EXITED", data["status"])
	}

	res = env.get(t, "/container/status/ghost")
	_ = json.Unmarshal(res.Data, &data)
	if data["status"] != "NOTFOUND" {
		t.Errorf("status = %q, want NOTFOUND", data["status"])
	}
}

func TestContainerRunSpawnsWorker(t *testing.T) {
	env := newTestEnv(t)
	env.addModule(t, "foo", dtmodule.StatusUpdated)

	res := env.get(t, "/container/run/foo?configuration=default&launcher=keyboard&name=joy")
	if res.Status != "ok" {
		t.Fatalf("status = %q", res.Status)
	}
	var data map[string]string
	_ = json.Unmarshal(res.Data, &data)
	if data["job"] == "" {
		t.Error("job handle missing")
	}
	if env.runner.opts.Launcher != "keyboard" || env.runner.opts.Name != "joy" {
		t.Errorf("opts = %+v", env.runner.opts)
	}
}

func TestContainerActionUnsupported(t *testing.T) {
	env := newTestEnv(t)
	res := env.get(t, "/container/teleport/bar")
	if res.Status != "not-implemented" {
		t.Errorf("status = %q, want not-implemented", res.Status)
	}
}
