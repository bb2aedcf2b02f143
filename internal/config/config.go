package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCheckInterval is the update-check period used when
// CHECK_UPDATES_EVERY_MIN is unset.
const DefaultCheckInterval = 30 * time.Minute

// MinCheckInterval is the lower bound for the update-check period.
// Smaller configured values are clamped, never rejected.
const MinCheckInterval = time.Minute

// Config holds all code-api configuration from environment variables.
// The check interval is protected by an RWMutex and must be accessed via
// getter/setter methods at runtime, since the checker goroutine reads it
// while a forced reconfiguration may write it.
type Config struct {
	// Container runtime
	TargetEndpoint string // Docker socket URL, e.g. unix:///var/run/docker.sock

	// Image coordinates
	DockerRegistry string // registry prefix used by stack files, default docker.io
	Distro         string // DT_DISTRO prefix before "-", e.g. "daffy"
	ModuleType     string // the process's own module name (self-skip guard)
	RobotType      string // selects the autoboot stack file <StacksDir>/<robot>.yaml
	StacksDir      string // directory holding autoboot stack files
	ReleasesOnly   bool

	// HTTP
	HTTPPort string

	// Storage
	DBPath string

	// Logging
	Debug   bool
	LogJSON bool

	// Notifications (empty broker = MQTT disabled)
	MQTTBroker string
	MQTTTopic  string

	// Optional cron expression overriding the plain check interval.
	CheckCron string

	// mu protects the mutable runtime fields below.
	mu            sync.RWMutex
	checkInterval time.Duration
}

// Load reads all configuration from environment variables with defaults.
// CHECK_UPDATES_EVERY_MIN below the 1-minute floor is clamped.
func Load() *Config {
	interval := time.Duration(envInt("CHECK_UPDATES_EVERY_MIN", 30)) * time.Minute
	if interval < MinCheckInterval {
		interval = MinCheckInterval
	}
	return &Config{
		TargetEndpoint: envStr("TARGET_ENDPOINT", "unix:///var/run/docker.sock"),
		DockerRegistry: envStr("DOCKER_REGISTRY", "docker.io"),
		Distro:         distroFromEnv(),
		ModuleType:     envStr("DT_MODULE_TYPE", ""),
		RobotType:      envStr("ROBOT_TYPE", ""),
		StacksDir:      envStr("AUTOBOOT_STACKS_DIR", "/data/autoboot"),
		ReleasesOnly:   envBool("RELEASES_ONLY", true),
		HTTPPort:       envStr("CODE_API_PORT", "8086"),
		DBPath:         envStr("CODE_API_DB_PATH", "/data/code-api.db"),
		Debug:          envBool("DEBUG", false),
		LogJSON:        envBool("LOG_JSON", false),
		MQTTBroker:     envStr("MQTT_BROKER", ""),
		MQTTTopic:      envStr("MQTT_TOPIC", "code-api/events"),
		CheckCron:      envStr("CHECK_UPDATES_CRON", ""),
		checkInterval:  interval,
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.CheckInterval() < MinCheckInterval {
		errs = append(errs, fmt.Errorf("check interval must be >= %s, got %s", MinCheckInterval, c.CheckInterval()))
	}
	if c.CheckCron != "" {
		if _, err := cron.ParseStandard(c.CheckCron); err != nil {
			errs = append(errs, fmt.Errorf("CHECK_UPDATES_CRON is not a valid cron expression: %w", err))
		}
	}
	if c.MQTTBroker == "" && os.Getenv("MQTT_TOPIC") != "" {
		errs = append(errs, fmt.Errorf("MQTT_TOPIC is set but MQTT_BROKER is empty"))
	}
	return errors.Join(errs...)
}

// Values returns all configuration as a string map for display.
func (c *Config) Values() map[string]string {
	return map[string]string{
		"TARGET_ENDPOINT":         c.TargetEndpoint,
		"DOCKER_REGISTRY":         c.DockerRegistry,
		"DT_DISTRO":               c.Distro,
		"DT_MODULE_TYPE":          c.ModuleType,
		"ROBOT_TYPE":              c.RobotType,
		"AUTOBOOT_STACKS_DIR":     c.StacksDir,
		"RELEASES_ONLY":           fmt.Sprintf("%t", c.ReleasesOnly),
		"CODE_API_PORT":           c.HTTPPort,
		"CODE_API_DB_PATH":        c.DBPath,
		"DEBUG":                   fmt.Sprintf("%t", c.Debug),
		"MQTT_BROKER":             c.MQTTBroker,
		"MQTT_TOPIC":              c.MQTTTopic,
		"CHECK_UPDATES_CRON":      c.CheckCron,
		"CHECK_UPDATES_EVERY_MIN": fmt.Sprintf("%d", int(c.CheckInterval().Minutes())),
	}
}

// CheckInterval returns the current update-check interval (thread-safe).
func (c *Config) CheckInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkInterval
}

// SetCheckInterval updates the check interval at runtime (thread-safe).
// Values below the floor are clamped.
func (c *Config) SetCheckInterval(d time.Duration) {
	if d < MinCheckInterval {
		d = MinCheckInterval
	}
	c.mu.Lock()
	c.checkInterval = d
	c.mu.Unlock()
}

// distroFromEnv reads DT_DISTRO and keeps only the prefix before "-",
// so "daffy-staging" and "daffy" both map to "daffy".
func distroFromEnv() string {
	v := envStr("DT_DISTRO", "UNKNOWN")
	if i := strings.Index(v, "-"); i >= 0 {
		return v[:i]
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envBool accepts the loose truthy set the platform uses in env vars:
// "1", "yes", "true" (any case) are true, everything else false.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "yes", "true":
		return true
	}
	return false
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
