// Package updater drives a module through the multi-phase update state
// machine: pull the new image, stop and rename the dependent containers,
// recreate them on the new image, and remove the old ones. One updater job
// runs per HTTP request; the module record is its sole status output.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"

	"github.com/duckietown/dt-code-api/internal/clock"
	"github.com/duckietown/dt-code-api/internal/config"
	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
	"github.com/duckietown/dt-code-api/internal/metrics"
	"github.com/duckietown/dt-code-api/internal/notify"
	"github.com/duckietown/dt-code-api/internal/registry"
	"github.com/duckietown/dt-code-api/internal/store"
)

// resetDelay is how long a module stays in ERROR before reset() hands it
// back to the checker for reclassification.
const resetDelay = 10 * time.Second

// Observation is one progress report yielded by the update state machine.
// A failed observation carries the failure message in Step and ends the job.
type Observation struct {
	OK       bool
	Step     string
	Progress int
}

// HistoryStore records finished update jobs. Satisfied by *store.Store.
type HistoryStore interface {
	RecordUpdate(rec store.UpdateRecord) error
}

// Updater spawns one background update job per request.
type Updater struct {
	docker   docker.API
	reg      *registry.Registry
	cfg      *config.Config
	log      *logging.Logger
	clock    clock.Clock
	notifier *notify.Multi
	history  HistoryStore
	compose  ComposeRunner
}

// New creates an Updater with all dependencies.
func New(d docker.API, reg *registry.Registry, cfg *config.Config, log *logging.Logger, clk clock.Clock, notifier *notify.Multi, history HistoryStore, compose ComposeRunner) *Updater {
	return &Updater{
		docker:   d,
		reg:      reg,
		cfg:      cfg,
		log:      log,
		clock:    clk,
		notifier: notifier,
		history:  history,
		compose:  compose,
	}
}

// Start takes custody of the module and launches the update job in the
// background. Fails with dtmodule.ErrConcurrentState when the module is
// already UPDATING. Returns the job handle name.
func (u *Updater) Start(ctx context.Context, mod *dtmodule.Module) (string, error) {
	if err := mod.BeginUpdate(); err != nil {
		return "", err
	}
	jobName := fmt.Sprintf("UpdateModuleJob[%s][%s]", mod.Name(), uuid.NewString()[:8])
	u.reg.Set(registry.GroupJobs, jobName, mod.Name())
	go u.work(ctx, mod, jobName)
	return jobName, nil
}

// work wraps the state machine: it consumes the observation sequence,
// mirrors it into the module record, and applies terminal handling. When
// ctx is cancelled mid-sequence the job is abandoned without further
// mutation of the module.
func (u *Updater) work(ctx context.Context, mod *dtmodule.Module, jobName string) {
	defer u.reg.Remove(registry.GroupJobs, jobName)

	start := u.clock.Now()
	u.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventUpdateStarted,
		Module:    mod.Name(),
		Image:     mod.Ref(),
		Timestamp: start,
	})

	last := 0
	failMsg := ""
	aborted := false

	emit := func(ob Observation) bool {
		select {
		case <-ctx.Done():
			aborted = true
			return false
		default:
		}
		if !ob.OK {
			failMsg = ob.Step
			return false
		}
		if ob.Progress > last {
			last = ob.Progress
		}
		mod.SetProgress(ob.Step, last)
		return true
	}

	u.run(ctx, mod, emit)

	if aborted {
		u.log.Info("update job abandoned on shutdown", "job", jobName)
		return
	}

	duration := u.clock.Since(start)
	metrics.UpdateDuration.Observe(duration.Seconds())

	if last >= 100 {
		mod.FinishUpdate(true, "")
		metrics.UpdatesTotal.WithLabelValues("success").Inc()
		u.notifier.Notify(ctx, notify.Event{
			Type:      notify.EventUpdateSucceeded,
			Module:    mod.Name(),
			Image:     mod.Ref(),
			Timestamp: u.clock.Now(),
		})
		u.record(mod, "success", duration, "")
		u.log.Info("module updated", "name", mod.Name(), "duration", duration)
		return
	}

	if failMsg == "" {
		failMsg = "update failed"
	}
	mod.FinishUpdate(false, failMsg)
	metrics.UpdatesTotal.WithLabelValues("failed").Inc()
	u.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventUpdateFailed,
		Module:    mod.Name(),
		Image:     mod.Ref(),
		Error:     failMsg,
		Timestamp: u.clock.Now(),
	})
	u.record(mod, "failed", duration, failMsg)
	u.log.Error("module update failed", "name", mod.Name(), "error", failMsg)

	// Hand the module back to the checker after a grace delay.
	time.AfterFunc(resetDelay, mod.Reset)
}

func (u *Updater) record(mod *dtmodule.Module, outcome string, duration time.Duration, errMsg string) {
	if u.history == nil {
		return
	}
	if err := u.history.RecordUpdate(store.UpdateRecord{
		Timestamp: u.clock.Now(),
		Module:    mod.Name(),
		Image:     mod.Ref(),
		Outcome:   outcome,
		Duration:  duration,
		Error:     errMsg,
	}); err != nil {
		u.log.Warn("failed to persist update record", "name", mod.Name(), "error", err)
	}
}

// oldContainer tracks a renamed container awaiting recreation.
type oldContainer struct {
	originalName string
	id           string
	labels       map[string]string
}

// run is the update state machine. Progress budget: enumerate 5, pull 85,
// rename 90, recreate 95, remove 100.
func (u *Updater) run(ctx context.Context, mod *dtmodule.Module, emit func(Observation) bool) {
	if !emit(Observation{true, "Initializing", 0}) {
		return
	}
	ref := mod.Ref()

	// Enumerate dependent containers before anything changes on the host.
	dependents, err := u.docker.ListContainersByAncestor(ctx, ref)
	if err != nil {
		emit(Observation{false, fmt.Sprintf("list dependent containers: %v", err), -1})
		return
	}
	if !emit(Observation{true, "Enumerating containers", 5}) {
		return
	}

	// Pull the new image, tracking per-layer completion for progress.
	if !u.pull(ctx, ref, emit) {
		return
	}

	// The host never recreates the container it is running inside.
	if mod.Name() == u.cfg.ModuleType {
		emit(Observation{true, "Finished", 100})
		return
	}

	// Stack-declared modules are re-applied through the compose tool;
	// everything else goes through rename/recreate from the config label.
	if services, stackFile := u.stackServices(mod); len(services) > 0 {
		if !u.recreateViaCompose(ctx, stackFile, services, emit) {
			return
		}
		emit(Observation{true, "Finished", 100})
		return
	}

	olds, ok := u.renameOld(ctx, dependents, emit)
	if !ok {
		return
	}
	if !u.recreate(ctx, mod, olds, emit) {
		return
	}
	u.removeOld(ctx, olds, emit)
	emit(Observation{true, "Finished", 100})
}

// pull streams the image pull, mapping layer completion onto [5, 85].
// A pull with zero layers (everything cached at the manifest level) stays
// at 5 and still counts as succeeded on stream completion.
func (u *Updater) pull(ctx context.Context, ref string, emit func(Observation) bool) bool {
	total := make(map[string]bool)
	completed := make(map[string]bool)

	err := u.docker.PullImage(ctx, ref, func(ev docker.PullEvent) {
		total[ev.ID] = true
		if ev.Status == "Pull complete" || ev.Status == "Already exists" {
			completed[ev.ID] = true
		}
		progress := 5
		if len(total) > 0 {
			progress = 5 + 80*len(completed)/len(total)
		}
		emit(Observation{true, "Pulling image", progress})
	})
	if err != nil {
		emit(Observation{false, fmt.Sprintf("pull %s: %v", ref, err), -1})
		return false
	}
	return emit(Observation{true, "Pulling image", 85})
}

// renameOld stops and renames every dependent container to <name>-old.
// Containers that disappeared since enumeration are tolerated; a container
// already carrying the -old suffix is not renamed twice. Progress spans
// (85, 90].
func (u *Updater) renameOld(ctx context.Context, dependents []container.Summary, emit func(Observation) bool) ([]oldContainer, bool) {
	olds := make([]oldContainer, 0, len(dependents))
	for i, cont := range dependents {
		inspect, err := u.docker.InspectContainer(ctx, cont.ID)
		if err != nil {
			if docker.IsNotFound(err) {
				continue
			}
			emit(Observation{false, fmt.Sprintf("inspect container %s: %v", cont.ID, err), -1})
			return nil, false
		}

		name := strings.TrimPrefix(inspect.Name, "/")
		if inspect.State != nil && inspect.State.Running {
			if err := u.docker.StopContainer(ctx, cont.ID, 30); err != nil {
				emit(Observation{false, fmt.Sprintf("stop container %s: %v", name, err), -1})
				return nil, false
			}
		}

		original := name
		if strings.HasSuffix(name, "-old") {
			original = strings.TrimSuffix(name, "-old")
		} else {
			if err := u.docker.RenameContainer(ctx, cont.ID, name+"-old"); err != nil {
				if docker.IsNotFound(err) {
					continue
				}
				emit(Observation{false, fmt.Sprintf("rename container %s: %v", name, err), -1})
				return nil, false
			}
		}

		labels := map[string]string{}
		if inspect.Config != nil {
			labels = inspect.Config.Labels
		}
		olds = append(olds, oldContainer{originalName: original, id: cont.ID, labels: labels})

		if !emit(Observation{true, "Renaming old containers", 85 + 5*(i+1)/len(dependents)}) {
			return nil, false
		}
	}
	return olds, emit(Observation{true, "Renaming old containers", 90})
}

// recreate launches a successor for every renamed container, reconstructing
// the run configuration from the image's configuration label. Progress
// spans (90, 95].
func (u *Updater) recreate(ctx context.Context, mod *dtmodule.Module, olds []oldContainer, emit func(Observation) bool) bool {
	for i, old := range olds {
		cfgName := old.labels[docker.LabelContainerConfig]
		if cfgName == "" {
			cfgName = "default"
		}
		raw := mod.Label(docker.ImageConfigLabel(cfgName))
		if raw == "" {
			raw = mod.Label(docker.ImageConfigLabel("default"))
		}
		if raw == "" {
			emit(Observation{false, fmt.Sprintf("module %s has no configuration %q: %v", mod.Name(), cfgName, dtmodule.ErrConfigurationMissing), -1})
			return false
		}

		var composeCfg map[string]any
		if err := json.Unmarshal([]byte(raw), &composeCfg); err != nil {
			emit(Observation{false, fmt.Sprintf("configuration %q of module %s is not valid JSON: %v", cfgName, mod.Name(), err), -1})
			return false
		}

		sdkCfg := RewriteConfig(composeCfg)
		u.warnUnknownRestart(sdkCfg)

		cfg, hostCfg, err := BuildContainerConfig(sdkCfg)
		if err != nil {
			emit(Observation{false, fmt.Sprintf("configuration %q of module %s: %v", cfgName, mod.Name(), err), -1})
			return false
		}
		cfg.Image = mod.Ref()
		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string)
		}
		for k, v := range docker.PreservedLabels(old.labels) {
			cfg.Labels[k] = v
		}
		cfg.Labels[docker.LabelContainerOwner] = u.cfg.ModuleType

		id, err := u.docker.CreateContainer(ctx, old.originalName, cfg, hostCfg, nil)
		if err != nil {
			emit(Observation{false, fmt.Sprintf("create container %s: %v", old.originalName, err), -1})
			return false
		}
		if err := u.docker.StartContainer(ctx, id); err != nil {
			emit(Observation{false, fmt.Sprintf("start container %s: %v", old.originalName, err), -1})
			return false
		}

		if !emit(Observation{true, "Recreating containers", 90 + 5*(i+1)/len(olds)}) {
			return false
		}
	}
	return emit(Observation{true, "Recreating containers", 95})
}

// removeOld removes the renamed containers. Individual failures are logged
// and ignored: the successors are already running. Progress spans (95, 100).
func (u *Updater) removeOld(ctx context.Context, olds []oldContainer, emit func(Observation) bool) {
	for i, old := range olds {
		if err := u.docker.RemoveContainer(ctx, old.id); err != nil {
			u.log.Warn("failed to remove old container", "name", old.originalName+"-old", "error", err)
		}
		if !emit(Observation{true, "Removing old containers", 95 + 4*(i+1)/len(olds)}) {
			return
		}
	}
}

// recreateViaCompose re-applies every matching service of the autoboot
// stack through the external compose tool, replacing the rename/recreate
// phases. Progress spans (85, 95].
func (u *Updater) recreateViaCompose(ctx context.Context, stackFile string, services []string, emit func(Observation) bool) bool {
	for i, service := range services {
		u.log.Info("re-applying stack service", "stack", stackFile, "service", service)
		if err := u.compose.Reapply(ctx, stackFile, service); err != nil {
			emit(Observation{false, fmt.Sprintf("re-apply service %s: %v", service, err), -1})
			return false
		}
		if !emit(Observation{true, "Re-applying stack services", 85 + 10*(i+1)/len(services)}) {
			return false
		}
	}
	return emit(Observation{true, "Re-applying stack services", 95})
}

func (u *Updater) warnUnknownRestart(sdkCfg map[string]any) {
	rp, ok := sdkCfg["restart_policy"].(map[string]any)
	if !ok {
		return
	}
	name, _ := rp["Name"].(string)
	switch name {
	case "always", "on-failure", "unless-stopped":
	default:
		u.log.Warn("unrecognized restart policy survived rewrite", "name", name)
	}
}
