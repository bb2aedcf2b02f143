package updater

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/duckietown/dt-code-api/internal/dtmodule"
)

// RewriteConfig converts a compose-style service configuration into the
// container SDK's schema. The "restart" key is the only divergence between
// the two: "never" is the runtime's implicit default and is dropped, any
// other value becomes a restart_policy object. Inputs without a "restart"
// key pass through unchanged, so the rewrite is idempotent for them.
func RewriteConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	if restart, ok := out["restart"]; ok {
		delete(out, "restart")
		if name, _ := restart.(string); name != "" && name != "never" {
			out["restart_policy"] = map[string]any{"Name": name}
		}
	}
	return out
}

// BuildContainerConfig turns a rewritten configuration map into the SDK's
// container and host configs. Unknown keys are ignored. Malformed values for
// command, entrypoint, environment, ports, volumes and device entries fail
// with an error; a value of the wrong type for any other known key is
// ignored.
func BuildContainerConfig(cfg map[string]any) (*container.Config, *container.HostConfig, error) {
	c := &container.Config{}
	h := &container.HostConfig{}

	if v, ok := cfg["command"]; ok {
		cmd, err := toCommand(v)
		if err != nil {
			return nil, nil, fmt.Errorf("command: %w", err)
		}
		c.Cmd = cmd
	}
	if v, ok := cfg["entrypoint"]; ok {
		ep, err := toCommand(v)
		if err != nil {
			return nil, nil, fmt.Errorf("entrypoint: %w", err)
		}
		c.Entrypoint = ep
	}
	if v, ok := cfg["environment"]; ok {
		env, err := toEnv(v)
		if err != nil {
			return nil, nil, fmt.Errorf("environment: %w", err)
		}
		c.Env = env
	}
	if v, ok := cfg["labels"].(map[string]any); ok {
		c.Labels = make(map[string]string, len(v))
		for k, lv := range v {
			c.Labels[k] = fmt.Sprint(lv)
		}
	}
	if v, ok := cfg["ports"]; ok {
		exposed, bindings, err := toPorts(v)
		if err != nil {
			return nil, nil, fmt.Errorf("ports: %w", err)
		}
		netExposed, netBindings, err := toNetworkPorts(exposed, bindings)
		if err != nil {
			return nil, nil, fmt.Errorf("ports: %w", err)
		}
		c.ExposedPorts = netExposed
		h.PortBindings = netBindings
	}
	if v, ok := cfg["volumes"]; ok {
		binds, err := toBinds(v)
		if err != nil {
			return nil, nil, fmt.Errorf("volumes: %w", err)
		}
		h.Binds = binds
	}
	if v, ok := cfg["devices"].([]any); ok {
		for _, dv := range v {
			dev, err := toDevice(fmt.Sprint(dv))
			if err != nil {
				return nil, nil, fmt.Errorf("devices: %w", err)
			}
			h.Devices = append(h.Devices, dev)
		}
	}
	if v, ok := cfg["network_mode"].(string); ok {
		h.NetworkMode = container.NetworkMode(v)
	}
	if v, ok := cfg["privileged"].(bool); ok {
		h.Privileged = v
	}
	if v, ok := cfg["runtime"].(string); ok {
		h.Runtime = v
	}
	if v, ok := cfg["auto_remove"].(bool); ok {
		h.AutoRemove = v
	}
	if v, ok := cfg["restart_policy"].(map[string]any); ok {
		name, _ := v["Name"].(string)
		h.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(name)}
		if n, ok := v["MaximumRetryCount"].(float64); ok {
			h.RestartPolicy.MaximumRetryCount = int(n)
		}
	}

	return c, h, nil
}

// toCommand accepts a compose command as a string or a list of strings.
func toCommand(v any) ([]string, error) {
	switch cmd := v.(type) {
	case string:
		return strings.Fields(cmd), nil
	case []any:
		out := make([]string, 0, len(cmd))
		for _, e := range cmd {
			out = append(out, fmt.Sprint(e))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %T: %w", v, dtmodule.ErrParse)
}

// toEnv accepts a compose environment as a {KEY: value} map or a
// ["KEY=value"] list, returning the SDK's list form.
func toEnv(v any) ([]string, error) {
	switch env := v.(type) {
	case map[string]any:
		out := make([]string, 0, len(env))
		for k, ev := range env {
			out = append(out, fmt.Sprintf("%s=%v", k, ev))
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(env))
		for _, e := range env {
			out = append(out, fmt.Sprint(e))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %T: %w", v, dtmodule.ErrParse)
}

// toPorts accepts ports as a {"8080/tcp": hostPort} map or a
// ["host:container"] list.
func toPorts(v any) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet)
	bindings := make(nat.PortMap)

	add := func(containerPort, hostPort string) {
		port := nat.Port(containerPort)
		if !strings.Contains(containerPort, "/") {
			port = nat.Port(containerPort + "/tcp")
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: hostPort})
	}

	switch ports := v.(type) {
	case map[string]any:
		for containerPort, hostPort := range ports {
			add(containerPort, fmt.Sprint(hostPort))
		}
	case []any:
		for _, e := range ports {
			spec := fmt.Sprint(e)
			host, cont, found := strings.Cut(spec, ":")
			if !found {
				add(spec, spec)
				continue
			}
			add(cont, host)
		}
	default:
		return nil, nil, fmt.Errorf("unsupported type %T: %w", v, dtmodule.ErrParse)
	}
	return exposed, bindings, nil
}

// toNetworkPorts adapts nat.PortSet/nat.PortMap (used while parsing) to the
// network.PortSet/network.PortMap types expected by the container SDK.
func toNetworkPorts(exposed nat.PortSet, bindings nat.PortMap) (network.PortSet, network.PortMap, error) {
	netExposed := make(network.PortSet, len(exposed))
	for p := range exposed {
		np, err := network.ParsePort(string(p))
		if err != nil {
			return nil, nil, err
		}
		netExposed[np] = struct{}{}
	}

	netBindings := make(network.PortMap, len(bindings))
	for p, bs := range bindings {
		np, err := network.ParsePort(string(p))
		if err != nil {
			return nil, nil, err
		}
		for _, b := range bs {
			netBindings[np] = append(netBindings[np], network.PortBinding{HostPort: b.HostPort})
		}
	}

	return netExposed, netBindings, nil
}

// toBinds accepts volumes as a {source: {bind, mode}} map or a
// ["source:destination[:mode]"] list, returning the SDK's bind strings.
func toBinds(v any) ([]string, error) {
	switch vols := v.(type) {
	case map[string]any:
		binds := make([]string, 0, len(vols))
		for source, spec := range vols {
			m, ok := spec.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("volume %q: unsupported spec %T: %w", source, spec, dtmodule.ErrParse)
			}
			bind, _ := m["bind"].(string)
			if bind == "" {
				return nil, fmt.Errorf("volume %q has no bind path: %w", source, dtmodule.ErrParse)
			}
			mode, _ := m["mode"].(string)
			if mode == "" {
				mode = "rw"
			}
			binds = append(binds, fmt.Sprintf("%s:%s:%s", source, bind, mode))
		}
		return binds, nil
	case []any:
		binds := make([]string, 0, len(vols))
		for _, e := range vols {
			binds = append(binds, fmt.Sprint(e))
		}
		return binds, nil
	}
	return nil, fmt.Errorf("unsupported type %T: %w", v, dtmodule.ErrParse)
}

// toDevice parses a "pathOnHost:pathInContainer:permissions" device spec.
func toDevice(spec string) (container.DeviceMapping, error) {
	parts := strings.Split(spec, ":")
	dev := container.DeviceMapping{CgroupPermissions: "rwm"}
	switch len(parts) {
	case 1:
		dev.PathOnHost, dev.PathInContainer = parts[0], parts[0]
	case 2:
		dev.PathOnHost, dev.PathInContainer = parts[0], parts[1]
	case 3:
		dev.PathOnHost, dev.PathInContainer, dev.CgroupPermissions = parts[0], parts[1], parts[2]
	default:
		return dev, fmt.Errorf("device %q: %w", spec, dtmodule.ErrParse)
	}
	return dev, nil
}
