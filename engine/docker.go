// Package engine wraps the container-engine CLI. All queries are
// filtered by the environment label so one veer instance only ever sees
// the environment it manages.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/toolexec"
	"github.com/veerhq/veer/types"
)

// Client invokes the container engine for one environment.
type Client struct {
	runner      toolexec.Runner
	binary      string
	environment string
	helperImage string
	timeout     time.Duration
	logger      *telemetry.Logger
}

// Options configure a Client.
type Options struct {
	Binary      string
	Environment string
	HelperImage string
	Timeout     time.Duration
	Runner      toolexec.Runner
}

// NewClient creates an engine client.
func NewClient(opts Options, logger *telemetry.Logger) *Client {
	runner := opts.Runner
	if runner == nil {
		runner = toolexec.NewExecRunner()
	}
	binary := opts.Binary
	if binary == "" {
		binary = "docker"
	}
	return &Client{
		runner:      runner,
		binary:      binary,
		environment: opts.Environment,
		helperImage: opts.HelperImage,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// psLine is one line of `docker ps --format json` output.
type psLine struct {
	ID        string `json:"ID"`
	Names     string `json:"Names"`
	Image     string `json:"Image"`
	Status    string `json:"Status"`
	Labels    string `json:"Labels"`
	CreatedAt string `json:"CreatedAt"`
}

// ListContainers returns running containers for this environment.
// Health is populated from a per-container inspect; a container without
// a probe reports HealthNone, which is not an error.
func (c *Client) ListContainers(ctx context.Context) ([]types.ContainerInfo, error) {
	result, err := c.run(ctx, "ps", "--format", "json", "--filter", c.envFilter())
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("list containers exited %d: %s", result.ExitCode, result.Stderr)
	}

	var containers []types.ContainerInfo
	for _, line := range jsonLines(result.Stdout) {
		var ps psLine
		if err := json.Unmarshal([]byte(line), &ps); err != nil {
			return nil, fmt.Errorf("malformed container listing: %w", err)
		}

		info := types.ContainerInfo{
			ID:     ps.ID,
			Name:   ps.Names,
			Image:  ps.Image,
			Status: ps.Status,
			Labels: parseLabels(ps.Labels),
		}
		if created, err := time.Parse("2006-01-02 15:04:05 -0700 MST", ps.CreatedAt); err == nil {
			info.Created = created
		}

		health, err := c.InspectHealth(ctx, info.Name)
		if err != nil {
			return nil, fmt.Errorf("inspect health of %s: %w", info.Name, err)
		}
		info.Health = health

		containers = append(containers, info)
	}
	return containers, nil
}

// InspectHealth queries a container's health probe state. Containers
// without a probe report HealthNone.
func (c *Client) InspectHealth(ctx context.Context, name string) (types.HealthState, error) {
	result, err := c.run(ctx, "inspect", "--format", "{{if .State.Health}}{{.State.Health.Status}}{{end}}", name)
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", name, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("inspect %s exited %d: %s", name, result.ExitCode, result.Stderr)
	}

	switch status := strings.TrimSpace(result.Stdout); status {
	case "":
		return types.HealthNone, nil
	case "healthy":
		return types.HealthHealthy, nil
	case "starting":
		return types.HealthStarting, nil
	default:
		return types.HealthUnhealthy, nil
	}
}

// ListNetworks returns networks labeled for this environment.
func (c *Client) ListNetworks(ctx context.Context) ([]types.NetworkInfo, error) {
	result, err := c.run(ctx, "network", "ls", "--format", "json", "--filter", c.envFilter())
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("list networks exited %d: %s", result.ExitCode, result.Stderr)
	}

	var networks []types.NetworkInfo
	for _, line := range jsonLines(result.Stdout) {
		var raw struct {
			ID     string `json:"ID"`
			Name   string `json:"Name"`
			Driver string `json:"Driver"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("malformed network listing: %w", err)
		}
		networks = append(networks, types.NetworkInfo{ID: raw.ID, Name: raw.Name, Driver: raw.Driver})
	}
	return networks, nil
}

// ListVolumes returns volumes labeled for this environment.
func (c *Client) ListVolumes(ctx context.Context) ([]types.VolumeInfo, error) {
	result, err := c.run(ctx, "volume", "ls", "--format", "json", "--filter", c.envFilter())
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("list volumes exited %d: %s", result.ExitCode, result.Stderr)
	}

	var volumes []types.VolumeInfo
	for _, line := range jsonLines(result.Stdout) {
		var raw struct {
			Name   string `json:"Name"`
			Driver string `json:"Driver"`
			Labels string `json:"Labels"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("malformed volume listing: %w", err)
		}
		volumes = append(volumes, types.VolumeInfo{Name: raw.Name, Driver: raw.Driver, Labels: parseLabels(raw.Labels)})
	}
	return volumes, nil
}

// Snapshot collects the full live inventory in one pass.
func (c *Client) Snapshot(ctx context.Context) (*types.InventorySnapshot, error) {
	containers, err := c.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	networks, err := c.ListNetworks(ctx)
	if err != nil {
		return nil, err
	}
	volumes, err := c.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	return &types.InventorySnapshot{
		Timestamp:  time.Now().UTC(),
		Containers: containers,
		Networks:   networks,
		Volumes:    volumes,
	}, nil
}

// Restart restarts one container.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.runExpectOK(ctx, "restart", name)
}

// StopRemove stops a container and removes it.
func (c *Client) StopRemove(ctx context.Context, name string) error {
	if err := c.runExpectOK(ctx, "stop", name); err != nil {
		return err
	}
	return c.runExpectOK(ctx, "rm", name)
}

// StopEnvironment stops every container in this environment. Used by
// the rollback stop-workloads step.
func (c *Client) StopEnvironment(ctx context.Context) (int, error) {
	result, err := c.run(ctx, "ps", "-q", "--filter", c.envFilter())
	if err != nil {
		return 0, fmt.Errorf("list container ids: %w", err)
	}
	if result.ExitCode != 0 {
		return 0, fmt.Errorf("list container ids exited %d: %s", result.ExitCode, result.Stderr)
	}

	ids := nonEmptyLines(result.Stdout)
	if len(ids) == 0 {
		return 0, nil
	}

	args := append([]string{"stop"}, ids...)
	if err := c.runExpectOK(ctx, args...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EnsureVolume creates a volume if it does not exist.
func (c *Client) EnsureVolume(ctx context.Context, name string) error {
	return c.runExpectOK(ctx, "volume", "create", name)
}

// ArchiveVolume writes a compressed archive of a volume's contents into
// destDir using a disposable helper container.
func (c *Client) ArchiveVolume(ctx context.Context, volume, destDir string) error {
	absDir, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolve backup dir: %w", err)
	}
	return c.runExpectOK(ctx, "run", "--rm",
		"-v", volume+":/source:ro",
		"-v", absDir+":/backup",
		c.helperImage,
		"tar", "czf", "/backup/"+volume+".tar.gz", "-C", "/source", ".")
}

// RestoreVolume replaces a volume's contents from an archive produced
// by ArchiveVolume.
func (c *Client) RestoreVolume(ctx context.Context, volume, archivePath string) error {
	absDir, err := filepath.Abs(filepath.Dir(archivePath))
	if err != nil {
		return fmt.Errorf("resolve archive dir: %w", err)
	}
	script := fmt.Sprintf("cd /target && rm -rf ./* && tar xzf /backup/%s", filepath.Base(archivePath))
	return c.runExpectOK(ctx, "run", "--rm",
		"-v", volume+":/target",
		"-v", absDir+":/backup:ro",
		c.helperImage,
		"sh", "-c", script)
}

func (c *Client) envFilter() string {
	return "label=environment=" + c.environment
}

func (c *Client) run(ctx context.Context, args ...string) (*toolexec.Result, error) {
	spec := toolexec.Spec{
		Name:    c.binary,
		Args:    args,
		Timeout: c.timeout,
	}
	if c.logger != nil {
		c.logger.LogToolInvocation(ctx, spec.Name, spec.Args, spec.Dir)
	}
	return c.runner.Run(ctx, spec)
}

func (c *Client) runExpectOK(ctx context.Context, args ...string) error {
	result, err := c.run(ctx, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s %s exited %d: %s", c.binary, strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// jsonLines splits engine list output, one JSON object per line.
func jsonLines(output string) []string {
	return nonEmptyLines(output)
}

func nonEmptyLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseLabels splits docker's "k=v,k=v" label rendering.
func parseLabels(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	labels := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		labels[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return labels
}
