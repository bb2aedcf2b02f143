// Package checker implements the periodic reconciliation worker: it
// rediscovers authoritative images on the host, keeps the Registry's module
// group in sync, and classifies each tracked module against the remote
// image index.
package checker

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/duckietown/dt-code-api/internal/clock"
	"github.com/duckietown/dt-code-api/internal/config"
	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/imageindex"
	"github.com/duckietown/dt-code-api/internal/logging"
	"github.com/duckietown/dt-code-api/internal/metrics"
	"github.com/duckietown/dt-code-api/internal/notify"
	"github.com/duckietown/dt-code-api/internal/registry"
)

// JobName is the handle the checker registers itself under in the jobs group.
const JobName = "UpdateCheckerJob"

// heartbeat is the outer poll period of the run loop; the loop wakes this
// often to test the shutdown flag and whether the next tick is due.
const heartbeat = 2 * time.Second

// Checker is the periodic reconciliation worker. Step is serialized: the
// run loop and HTTP-forced steps share one mutex, so no two passes of the
// same checker ever overlap.
type Checker struct {
	docker   docker.API
	index    imageindex.Fetcher
	reg      *registry.Registry
	cfg      *config.Config
	log      *logging.Logger
	clock    clock.Clock
	notifier *notify.Multi

	pattern  *regexp.Regexp
	schedule cron.Schedule // non-nil only when CHECK_UPDATES_CRON is set

	stepMu  sync.Mutex
	resetCh chan struct{}
}

// New creates a Checker for the given distro/arch pair and registers its
// job handle in the Registry. An invalid CHECK_UPDATES_CRON fails here.
func New(d docker.API, idx imageindex.Fetcher, reg *registry.Registry, cfg *config.Config, log *logging.Logger, clk clock.Clock, notifier *notify.Multi, arch string) (*Checker, error) {
	pattern := regexp.MustCompile(fmt.Sprintf(
		`^[a-z0-9][a-z0-9._-]*/(.+):%s-%s$`,
		regexp.QuoteMeta(cfg.Distro), regexp.QuoteMeta(arch),
	))

	c := &Checker{
		docker:   d,
		index:    idx,
		reg:      reg,
		cfg:      cfg,
		log:      log,
		clock:    clk,
		notifier: notifier,
		pattern:  pattern,
		resetCh:  make(chan struct{}, 1),
	}

	if cfg.CheckCron != "" {
		sched, err := cron.ParseStandard(cfg.CheckCron)
		if err != nil {
			return nil, fmt.Errorf("parse CHECK_UPDATES_CRON: %w", err)
		}
		c.schedule = sched
	}

	reg.Set(registry.GroupJobs, JobName, c)
	log.Info("update checker configured", "interval", cfg.CheckInterval(), "cron", cfg.CheckCron)
	return c, nil
}

// Run starts the check loop. It performs an initial step immediately, then
// steps at every tick. Exits when ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	if err := c.Step(ctx); err != nil {
		c.log.Error("initial check failed", "error", err)
	}
	next := c.nextTick(c.clock.Now())

	for {
		select {
		case <-c.clock.After(heartbeat):
			if c.clock.Now().Before(next) {
				continue
			}
			if err := c.Step(ctx); err != nil {
				c.log.Error("scheduled check failed", "error", err)
			}
			next = c.nextTick(c.clock.Now())
		case <-c.resetCh:
			next = c.nextTick(c.clock.Now())
			c.log.Info("check interval changed, next tick rescheduled", "next", next)
		case <-ctx.Done():
			c.log.Info("update checker stopped")
			return
		}
	}
}

// SetCheckInterval updates the interval at runtime and reschedules the
// next tick.
func (c *Checker) SetCheckInterval(d time.Duration) {
	c.cfg.SetCheckInterval(d)
	select {
	case c.resetCh <- struct{}{}:
	default:
	}
}

func (c *Checker) nextTick(now time.Time) time.Time {
	if c.schedule != nil {
		return c.schedule.Next(now)
	}
	return now.Add(c.cfg.CheckInterval())
}

// Step performs one reconciliation pass: enumerate host images, match tags,
// reconcile the Registry, remove stale modules, and classify the survivors.
// Only one Step executes at a time per checker; HTTP-forced steps share the
// same mutual exclusion. Per-module failures never surface to the caller —
// they downgrade the affected module's status instead.
func (c *Checker) Step(ctx context.Context) error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	start := c.clock.Now()
	defer func() {
		metrics.CheckerSteps.Inc()
		metrics.CheckerStepDuration.Observe(c.clock.Since(start).Seconds())
	}()

	c.log.Debug("rechecking the status of modules")

	images, err := c.docker.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	compatible := c.reconcile(images)
	c.removeStale(compatible)
	c.classify(ctx)
	c.publishMetrics()
	return nil
}

// reconcile matches authoritative images against the tag pattern, creating
// or refreshing module records. Returns the set of compatible tags seen in
// this pass.
func (c *Checker) reconcile(images []docker.ImageSummary) map[string]bool {
	compatible := make(map[string]bool)

	for _, img := range images {
		if len(img.RepoTags) == 0 {
			continue
		}
		if img.Labels[docker.LabelAuthoritative] != "1" {
			continue
		}

		found := false
		var moduleTag string
		for _, tag := range img.RepoTags {
			m := c.pattern.FindStringSubmatch(tag)
			if m == nil {
				continue
			}
			name := m[1]
			moduleTag = tag
			compatible[tag] = true
			c.reg.Set(registry.GroupTags, name, tag)

			if v, err := c.reg.Get(registry.GroupModules, name); err == nil {
				mod := v.(*dtmodule.Module)
				if mod.ImageID() == img.ID {
					c.log.Debug("module is still there", "name", name)
					if st := mod.Status(); !st.Solid() && !st.Frozen() {
						mod.SetStatus(dtmodule.StatusUnknown)
					}
					found = true
					break
				}
				// A second image matching an already-tracked name keeps the
				// first observed record while that record's image still
				// carries its tag (or an updater holds the record); once the
				// older image has lost the tag, this image replaces it.
				found = mod.Status().Frozen()
				for _, other := range images {
					if other.ID == mod.ImageID() && slices.Contains(other.RepoTags, mod.Ref()) {
						found = true
					}
				}
				break
			}
			break
		}

		if !found && moduleTag != "" {
			mod, err := dtmodule.New(moduleTag, img.ID, img.Labels)
			if err != nil {
				c.log.Warn("skipping unparsable image tag", "tag", moduleTag, "error", err)
				continue
			}
			c.reg.Set(registry.GroupModules, mod.Name(), mod)
			c.log.Info("tracking new module", "name", mod.Name(), "tag", moduleTag)
		}
	}
	return compatible
}

// removeStale untracks modules whose recorded tag no longer names a
// compatible image on the host. Modules under updater custody are exempt.
func (c *Checker) removeStale(compatible map[string]bool) {
	for _, e := range c.reg.Group(registry.GroupModules) {
		mod := e.Value.(*dtmodule.Module)
		tagV, _ := c.reg.Get(registry.GroupTags, e.Key, "")
		tag, _ := tagV.(string)
		if !compatible[tag] && !mod.Status().Frozen() {
			c.reg.Remove(registry.GroupModules, e.Key)
			c.reg.Remove(registry.GroupTags, e.Key)
			c.log.Info("untracking module", "name", e.Key, "tag", tag)
		}
	}
}

// classify probes the remote index for each surviving module and computes
// its status from local versus remote build time. Solid statuses are
// preserved across transient remote failures so a flaky index does not
// cause flapping.
func (c *Checker) classify(ctx context.Context) {
	for _, e := range c.reg.Group(registry.GroupModules) {
		mod := e.Value.(*dtmodule.Module)
		if mod.Status().Frozen() {
			continue
		}

		remote, err := c.index.Fetch(ctx, c.cfg.DockerRegistry, mod.Repository(), mod.Tag())
		if err != nil {
			metrics.RemoteFetchErrors.Inc()
			c.log.Debug("could not fetch remote image", "name", e.Key, "error", err)
			if st := mod.Status(); !st.Solid() && !st.Frozen() {
				mod.SetStatus(dtmodule.StatusNotFound)
			}
			continue
		}

		mod.SetRemoteVersions(
			remote.Labels[docker.LabelVersionHead],
			remote.Labels[docker.LabelVersionClosest],
		)

		remoteTime, err := dtmodule.ParseBuildTime(remote.Labels[docker.LabelTime])
		if err != nil {
			c.log.Debug("could not parse remote build time", "name", e.Key, "error", err)
			if st := mod.Status(); !st.Solid() && !st.Frozen() {
				mod.SetStatus(dtmodule.StatusError)
			}
			continue
		}

		localTime, localErr := dtmodule.ParseBuildTime(mod.LocalTime())

		prev := mod.Status()
		switch {
		case localErr != nil || localTime.After(remoteTime):
			// Missing local build metadata counts as ahead: development
			// builds carry no time label.
			mod.SetStatus(dtmodule.StatusAhead)
		case localTime.Equal(remoteTime):
			mod.SetStatus(dtmodule.StatusUpdated)
		default:
			mod.SetStatus(dtmodule.StatusBehind)
			if prev != dtmodule.StatusBehind {
				_, _, remoteHead, _ := mod.Versions()
				c.log.Info("found new version for module",
					"name", e.Key, "remote", remoteHead,
					"local_time", mod.LocalTime(), "remote_time", remote.Labels[docker.LabelTime])
				c.notifier.Notify(ctx, notify.Event{
					Type:      notify.EventUpdateAvailable,
					Module:    e.Key,
					Image:     mod.Ref(),
					Timestamp: c.clock.Now(),
				})
			}
		}
	}
}

func (c *Checker) publishMetrics() {
	entries := c.reg.Group(registry.GroupModules)
	metrics.ModulesTracked.Set(float64(len(entries)))
	counts := make(map[string]int)
	for _, e := range entries {
		counts[string(e.Value.(*dtmodule.Module).Status())]++
	}
	metrics.SetStatusCounts(counts)
	c.log.Debug("tracking modules", "count", len(entries))
}
