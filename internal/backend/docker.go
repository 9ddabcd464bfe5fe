package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/logger"
)

// Docker runs jobs on a local Docker daemon
type Docker struct {
	cli *client.Client
}

var _ Backend = (*Docker)(nil)

// NewDocker connects to the daemon named by DockerHost, or the one from the
// standard DOCKER_* environment when unset
func NewDocker(cfg config.ExecutionBackendConfig) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.Timeout))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

// Close releases the daemon connection
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Run creates and starts a detached container
func (d *Docker) Run(ctx context.Context, spec RunSpec) (string, error) {
	hostCfg := &container.HostConfig{}
	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    envList(spec.Env),
		Labels: withManagedLabel(spec.Labels),
	}, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", resp.ID, err)
	}
	logger.Debugf("Started container %s from image %s", resp.ID, spec.Image)
	return resp.ID, nil
}

// Inspect returns the current status of a container
func (d *Docker) Inspect(ctx context.Context, id string) (*ContainerStatus, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if client.IsErrNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return nil, fmt.Errorf("inspect of container %s returned no state", id)
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inspect result: %w", err)
	}

	created, _ := time.Parse(time.RFC3339Nano, info.Created)
	return &ContainerStatus{
		ID:        info.ID,
		Status:    string(info.State.Status),
		ExitCode:  info.State.ExitCode,
		CreatedAt: created,
		Raw:       raw,
	}, nil
}

// Logs returns the demultiplexed stdout and stderr of a container
func (d *Docker) Logs(ctx context.Context, id string) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if client.IsErrNotFound(err) {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get logs of container %s: %w", id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to read logs of container %s: %w", id, err)
	}
	return buf.String(), nil
}

// List returns all managed containers, including stopped ones
func (d *Docker) List(ctx context.Context) ([]ContainerSummary, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerSummary{
			ID:        c.ID,
			State:     string(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}
	return out, nil
}

// Remove force-removes a container
func (d *Docker) Remove(ctx context.Context, id string) (RemoveOutcome, error) {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return AlreadyGone, nil
	}
	if err != nil {
		return RemoveFailed, fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return Removed, nil
}

// Wait blocks until the container is no longer running
func (d *Docker) Wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if client.IsErrNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return 0, fmt.Errorf("failed to wait for container %s: %w", id, err)
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container %s wait error: %s", id, status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// envList renders an environment map as sorted KEY=value pairs
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
