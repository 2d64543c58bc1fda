package runtime

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/crucible-sec/crucible/errors"
)

// DockerRuntime implements ContainerRuntime over the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime creates a runtime client from the environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return &DockerRuntime{cli: cli}, nil
}

// NewDockerRuntimeWithClient wraps an existing client. Used by tests and by
// callers that manage client construction themselves.
func NewDockerRuntimeWithClient(cli *client.Client) *DockerRuntime {
	return &DockerRuntime{cli: cli}
}

// Close releases the underlying client transport.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list containers")
	}

	infos := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			// The engine reports names with a leading slash
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
		})
	}
	return infos, nil
}

func (d *DockerRuntime) FindContainer(ctx context.Context, nameOrID string) (*ContainerInfo, error) {
	containers, err := d.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	want := strings.TrimPrefix(nameOrID, "/")
	for i := range containers {
		c := &containers[i]
		if c.Name == want || strings.HasPrefix(c.ID, want) {
			return c, nil
		}
	}
	return nil, errors.NewNotFoundError("container %q", nameOrID)
}

func (d *DockerRuntime) ExecCreate(ctx context.Context, containerID string, spec ExecSpec) (string, error) {
	resp, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		User:         spec.User,
		WorkingDir:   spec.WorkingDir,
		Env:          spec.Env,
		Cmd:          spec.Cmd,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  false,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to create exec session")
	}
	return resp.ID, nil
}

func (d *DockerRuntime) ExecAttach(ctx context.Context, execID string) (io.ReadCloser, error) {
	resp, err := d.cli.ContainerExecAttach(ctx, execID, container.ExecStartOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach to exec session")
	}
	return &hijackedStream{resp: resp}, nil
}

// hijackedStream adapts the hijacked connection to io.ReadCloser.
type hijackedStream struct {
	resp types.HijackedResponse
}

func (h *hijackedStream) Read(p []byte) (int, error) {
	return h.resp.Reader.Read(p)
}

func (h *hijackedStream) Close() error {
	h.resp.Close()
	return nil
}

func (d *DockerRuntime) ExecExitCode(ctx context.Context, execID string) (*int, error) {
	inspect, err := d.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect exec session")
	}
	if inspect.Running {
		return nil, nil
	}
	code := inspect.ExitCode
	return &code, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, "failed to start container %s", containerID)
	}
	return nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return errors.Wrapf(err, "failed to stop container %s", containerID)
	}
	return nil
}

func (d *DockerRuntime) RestartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerRestart(ctx, containerID, container.StopOptions{}); err != nil {
		return errors.Wrapf(err, "failed to restart container %s", containerID)
	}
	return nil
}

func (d *DockerRuntime) Logs(ctx context.Context, containerID string, tail int) ([]byte, error) {
	rc, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get logs for container %s", containerID)
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func (d *DockerRuntime) CopyTo(ctx context.Context, containerID, destPath string, archive io.Reader) error {
	if err := d.cli.CopyToContainer(ctx, containerID, destPath, archive, container.CopyToContainerOptions{}); err != nil {
		return errors.Wrapf(err, "failed to copy archive into container %s", containerID)
	}
	return nil
}

func (d *DockerRuntime) CopyFrom(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to copy %s from container %s", srcPath, containerID)
	}
	return rc, nil
}
