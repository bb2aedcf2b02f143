package updater

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/duckietown/dt-code-api/internal/dtmodule"
	"github.com/duckietown/dt-code-api/internal/logging"
)

// ComposeRunner re-applies a single service of a stack file. Implemented
// by ExecComposeRunner for production and by fakes in tests.
type ComposeRunner interface {
	Reapply(ctx context.Context, stackFile, service string) error
}

// ExecComposeRunner shells out to the external compose tool.
type ExecComposeRunner struct {
	log *logging.Logger
}

// NewExecComposeRunner creates a runner invoking "docker compose".
func NewExecComposeRunner(log *logging.Logger) *ExecComposeRunner {
	return &ExecComposeRunner{log: log}
}

// Reapply runs "docker compose -f <stackFile> up -d <service>".
func (r *ExecComposeRunner) Reapply(ctx context.Context, stackFile, service string) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-f", stackFile, "up", "-d", service)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker compose up %s: %w\noutput: %s", service, err, string(output))
	}
	r.log.Debug("compose service re-applied", "stack", stackFile, "service", service)
	return nil
}

// placeholderPattern matches ${VAR:-default} placeholders in stack image
// references.
var placeholderPattern = regexp.MustCompile(`\$\{[^}]*\}`)

// StackPath returns the autoboot stack file for a robot type.
func StackPath(stacksDir, robotType string) string {
	return filepath.Join(stacksDir, robotType+".yaml")
}

// MatchingServices parses a stack file and returns the names of services
// whose image, after placeholder substitution, equals <registry>/<ref>.
// The REGISTRY placeholder always resolves to the configured registry;
// every other placeholder falls back to its declared default.
func MatchingServices(stackFile, dockerRegistry, ref string) ([]string, error) {
	data, err := os.ReadFile(stackFile)
	if err != nil {
		return nil, fmt.Errorf("read stack file: %w", err)
	}

	var stack struct {
		Services map[string]struct {
			Image string `yaml:"image"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &stack); err != nil {
		return nil, fmt.Errorf("parse stack file %s: %w", stackFile, dtmodule.ErrParse)
	}

	want := dockerRegistry + "/" + ref
	var matched []string
	for name, svc := range stack.Services {
		if substitutePlaceholders(svc.Image, dockerRegistry) == want {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func substitutePlaceholders(image, dockerRegistry string) string {
	return placeholderPattern.ReplaceAllStringFunc(image, func(orig string) string {
		body := orig[2 : len(orig)-1]
		key, def, _ := strings.Cut(body, ":-")
		if key == "REGISTRY" {
			return dockerRegistry
		}
		return def
	})
}

// stackServices resolves the compose-path selection for a module: when
// ROBOT_TYPE names a readable stack file and at least one of its services
// runs this module's image, the compose path applies.
func (u *Updater) stackServices(mod *dtmodule.Module) ([]string, string) {
	if u.cfg.RobotType == "" || u.compose == nil {
		return nil, ""
	}
	stackFile := StackPath(u.cfg.StacksDir, u.cfg.RobotType)
	if _, err := os.Stat(stackFile); err != nil {
		u.log.Debug("autoboot stack file not found", "path", stackFile)
		return nil, ""
	}
	services, err := MatchingServices(stackFile, u.cfg.DockerRegistry, mod.Ref())
	if err != nil {
		u.log.Warn("could not read autoboot stack", "path", stackFile, "error", err)
		return nil, ""
	}
	return services, stackFile
}
