// Package runtime abstracts the container runtime consumed by the execution
// channel, the tool router, and the discovery agent. The production
// implementation speaks to the Docker Engine API; tests substitute fakes.
package runtime

import (
	"context"
	"io"
)

// Container state strings as reported by the runtime.
const (
	StateRunning = "running"
	StateExited  = "exited"
)

// ContainerInfo describes a container visible to the runtime.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	State  string
	Status string
}

// Running reports whether the container is in a running state.
func (c *ContainerInfo) Running() bool {
	return c.State == StateRunning
}

// ExecSpec describes an exec session to open inside a container. Sessions
// attach both output channels and never attach stdin.
type ExecSpec struct {
	Cmd        []string
	WorkingDir string
	User       string
	Env        []string
}

// ContainerRuntime is the surface of the container runtime this subsystem
// consumes: container resolution, exec sessions with a multiplexed output
// stream, exit-code inspection, lifecycle control, logs, and archive
// transfer.
type ContainerRuntime interface {
	// ListContainers returns all containers visible to the runtime,
	// including stopped ones.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)

	// FindContainer resolves a container by exact name or ID prefix.
	// Returns errors.ErrNotFound when no container matches.
	FindContainer(ctx context.Context, nameOrID string) (*ContainerInfo, error)

	// ExecCreate opens an exec session and returns its ID. The session is
	// not started until ExecAttach.
	ExecCreate(ctx context.Context, containerID string, spec ExecSpec) (string, error)

	// ExecAttach starts the exec session and returns the raw interleaved
	// output stream (stdout/stderr multiplexed with 8-byte frame headers).
	ExecAttach(ctx context.Context, execID string) (io.ReadCloser, error)

	// ExecExitCode inspects the exec session. Returns nil while the process
	// is still running, the exit code once it is recorded.
	ExecExitCode(ctx context.Context, execID string) (*int, error)

	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RestartContainer(ctx context.Context, containerID string) error

	// Logs returns up to tail lines of the container's output channels.
	Logs(ctx context.Context, containerID string, tail int) ([]byte, error)

	// CopyTo extracts a tar archive into destPath inside the container.
	CopyTo(ctx context.Context, containerID, destPath string, archive io.Reader) error

	// CopyFrom returns a tar archive of srcPath from the container.
	CopyFrom(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)
}
