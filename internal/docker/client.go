package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

const labelPrefix = "fabrik."

type Client struct {
	docker *client.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// PullImage pulls ref and drains the progress stream. It returns once the
// daemon reports the pull finished.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	rc, err := c.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer rc.Close()
	return drainProgress(rc, func(msg jsonmessage.JSONMessage) {
		c.logger.Debug("pull progress", "image", ref, "status", msg.Status, "id", msg.ID)
	})
}

// drainProgress decodes a stream of progress messages until EOF, failing on
// the first message carrying an error.
func drainProgress(r io.Reader, onMsg func(jsonmessage.JSONMessage)) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode pull progress: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("image pull: %s", msg.Error.Message)
		}
		if onMsg != nil {
			onMsg(msg)
		}
	}
}

type CreateOpts struct {
	Env    string
	Image  string
	Cmd    []string
	Binds  []string
	Labels map[string]string
}

// CreateContainer creates a container with standard I/O attached. The
// container is left in the created state.
func (c *Client) CreateContainer(ctx context.Context, opts CreateOpts) (string, error) {
	labels := map[string]string{
		labelPrefix + "managed": "true",
		labelPrefix + "env":     opts.Env,
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	containerCfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Labels:       labels,
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{
		Binds:       opts.Binds,
		SecurityOpt: []string{"no-new-privileges"},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	for _, w := range resp.Warnings {
		c.logger.Warn("container create warning", "container_id", resp.ID, "warning", w)
	}
	return resp.ID, nil
}

func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

// StopContainer stops a container, killing it after timeoutSeconds.
func (c *Client) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	timeout := timeoutSeconds
	if err := c.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

// ExecResult is the outcome of a foreground process run inside a container.
type ExecResult struct {
	Output   []byte
	ExitCode int
}

// Exec runs argv inside the container and collects stdout and stderr into
// one buffer in arrival order.
func (c *Client) Exec(ctx context.Context, containerID string, argv []string) (ExecResult, error) {
	execResp, err := c.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attachResp.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec inspect: %w", err)
	}
	return ExecResult{Output: out.Bytes(), ExitCode: inspect.ExitCode}, nil
}

// CopyFrom returns a tar stream of path inside the container.
func (c *Client) CopyFrom(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	rc, _, err := c.docker.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, fmt.Errorf("copy from container: %w", err)
	}
	return rc, nil
}

// CopyTo extracts the tar stream content into dir inside the container.
func (c *Client) CopyTo(ctx context.Context, containerID, dir string, content io.Reader) error {
	err := c.docker.CopyToContainer(ctx, containerID, dir, content, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: false,
	})
	if err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container. A missing container is not an
// error.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// ContainerInfo holds basic info about a managed container.
type ContainerInfo struct {
	ContainerID string
	Env         string
	State       string
}

// ListManagedContainers returns all containers carrying the fabrik labels
// for env.
func (c *Client) ListManagedContainers(ctx context.Context, env string) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")
	f.Add("label", labelPrefix+"env="+env)

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		result = append(result, ContainerInfo{
			ContainerID: ctr.ID,
			Env:         ctr.Labels[labelPrefix+"env"],
			State:       string(ctr.State),
		})
	}
	return result, nil
}

// IsContainerRunning checks if a container is currently running.
func (c *Client) IsContainerRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.State != nil && info.State.Running, nil
}
