// Package runner implements the one-shot worker that launches a container
// for a module from a configuration declared as an image label, then watches
// the launched container until it stops.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duckietown/dt-code-api/internal/clock"
	"github.com/duckietown/dt-code-api/internal/config"
	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
	"github.com/duckietown/dt-code-api/internal/metrics"
	"github.com/duckietown/dt-code-api/internal/notify"
	"github.com/duckietown/dt-code-api/internal/registry"
	"github.com/duckietown/dt-code-api/internal/updater"
)

// heartbeat is the poll period while watching the launched container.
const heartbeat = 5 * time.Second

// Options parameterize a run request.
type Options struct {
	Configuration string         // image configuration name, default "default"
	Launcher      string         // launcher name, default "default"
	Name          string         // container name; empty lets the runtime pick
	Custom        map[string]any // JSON-decoded configuration overlay
}

// Runner spawns one background run-container job per request.
type Runner struct {
	docker   docker.API
	reg      *registry.Registry
	cfg      *config.Config
	log      *logging.Logger
	clock    clock.Clock
	notifier *notify.Multi
}

// New creates a Runner with all dependencies.
func New(d docker.API, reg *registry.Registry, cfg *config.Config, log *logging.Logger, clk clock.Clock, notifier *notify.Multi) *Runner {
	return &Runner{docker: d, reg: reg, cfg: cfg, log: log, clock: clk, notifier: notifier}
}

// Start launches the run job in the background and returns its job handle.
func (r *Runner) Start(ctx context.Context, mod *dtmodule.Module, opts Options) string {
	if opts.Configuration == "" {
		opts.Configuration = "default"
	}
	if opts.Launcher == "" {
		opts.Launcher = "default"
	}
	jobName := fmt.Sprintf("RunContainerJob[%s][%s]", mod.Name(), uuid.NewString()[:8])
	r.reg.Set(registry.GroupJobs, jobName, mod.Name())
	go r.work(ctx, mod, opts, jobName)
	return jobName
}

// work launches the container and polls its state on a heartbeat until it
// leaves the alive set or shutdown is requested.
func (r *Runner) work(ctx context.Context, mod *dtmodule.Module, opts Options, jobName string) {
	defer r.reg.Remove(registry.GroupJobs, jobName)

	id, err := r.Launch(ctx, mod, opts)
	if err != nil {
		r.log.Error("run container job failed", "job", jobName, "error", err)
		r.notifier.Notify(ctx, notify.Event{
			Type:      notify.EventContainerRun,
			Module:    mod.Name(),
			Image:     mod.Ref(),
			Error:     err.Error(),
			Timestamp: r.clock.Now(),
		})
		return
	}

	metrics.ContainersRun.Inc()
	r.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventContainerRun,
		Module:    mod.Name(),
		Image:     mod.Ref(),
		Timestamp: r.clock.Now(),
	})

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("run container job stopped on shutdown", "job", jobName)
			return
		case <-r.clock.After(heartbeat):
		}

		inspect, err := r.docker.InspectContainer(ctx, id)
		if err != nil {
			r.log.Debug("launched container gone", "job", jobName, "error", err)
			return
		}
		state := ""
		if inspect.State != nil {
			state = string(inspect.State.Status)
		}
		if !dtmodule.ContainerStatusFromString(state).Alive() {
			r.log.Info("launched container stopped", "job", jobName, "state", state)
			return
		}
	}
}

// Launch resolves the run configuration and starts the container, returning
// its ID. When a container with the requested name already exists, a stopped
// one is started, a paused one is unpaused, and anything else fails with a
// conflict.
func (r *Runner) Launch(ctx context.Context, mod *dtmodule.Module, opts Options) (string, error) {
	if opts.Name != "" {
		existing, err := r.docker.FindContainerByName(ctx, opts.Name)
		if err == nil {
			switch string(existing.State) {
			case "exited", "dead", "created":
				if err := r.docker.StartContainer(ctx, existing.ID); err != nil {
					return "", fmt.Errorf("start existing container %s: %w", opts.Name, err)
				}
				return existing.ID, nil
			case "paused":
				if err := r.docker.UnpauseContainer(ctx, existing.ID); err != nil {
					return "", fmt.Errorf("unpause existing container %s: %w", opts.Name, err)
				}
				return existing.ID, nil
			default:
				return "", fmt.Errorf("container %q already exists: %w", opts.Name, dtmodule.ErrConcurrentState)
			}
		}
		if !docker.IsNotFound(err) {
			return "", fmt.Errorf("look up container %s: %w", opts.Name, err)
		}
	}

	raw := mod.Label(docker.ImageConfigLabel(opts.Configuration))
	if raw == "" {
		return "", fmt.Errorf("module %s has no configuration %q: %w",
			mod.Name(), opts.Configuration, dtmodule.ErrConfigurationMissing)
	}
	var imageCfg map[string]any
	if err := json.Unmarshal([]byte(raw), &imageCfg); err != nil {
		return "", fmt.Errorf("configuration %q of module %s is not valid JSON: %w", opts.Configuration, mod.Name(), err)
	}

	// Later sources override earlier ones: image configuration, custom
	// overlay, then the derived fields nothing may override.
	merged := updater.RewriteConfig(imageCfg)
	for k, v := range updater.RewriteConfig(opts.Custom) {
		merged[k] = v
	}
	merged["auto_remove"] = false
	merged["command"] = docker.Launcher(opts.Launcher)

	cfg, hostCfg, err := updater.BuildContainerConfig(merged)
	if err != nil {
		return "", fmt.Errorf("configuration %q of module %s: %w", opts.Configuration, mod.Name(), err)
	}
	cfg.Image = mod.Ref()
	cfg.Labels = map[string]string{docker.LabelContainerOwner: r.cfg.ModuleType}

	r.log.Info("running container for module",
		"module", mod.Name(), "configuration", opts.Configuration,
		"launcher", opts.Launcher, "name", opts.Name)

	id, err := r.docker.CreateContainer(ctx, opts.Name, cfg, hostCfg, nil)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := r.docker.StartContainer(ctx, id); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	return id, nil
}
