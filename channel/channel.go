// Package channel implements the execution channel: it opens commands inside
// named execution containers, demultiplexes the interleaved output stream,
// enforces timeouts and output caps, and reports a verified exit status.
package channel

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/runtime"
)

// Request describes a single command execution. Transient, never persisted.
type Request struct {
	ContainerName string
	Argv          []string
	WorkDir       string
	Env           []string
	User          string
	Timeout       time.Duration
}

// Result carries the outcome of a completed execution. Callers persist what
// they need.
type Result struct {
	ExitCode    int
	Stdout      string
	Stderr      string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Channel runs commands inside execution containers through a container
// runtime. Safe for concurrent use; nothing serializes calls except natural
// resource limits at the runtime layer.
type Channel struct {
	runtime runtime.ContainerRuntime
	cfg     config.ExecutionConfig
	log     *zap.SugaredLogger
}

// New creates an execution channel.
func New(rt runtime.ContainerRuntime, cfg config.ExecutionConfig, log *zap.SugaredLogger) *Channel {
	return &Channel{
		runtime: rt,
		cfg:     cfg,
		log:     log.Named("channel"),
	}
}

// Execute runs argv inside the named container and returns the demultiplexed
// output with a verified exit status.
//
// Error taxonomy: ErrValidation (bad argv, local, never retried),
// ErrNotFound (no such container), ErrNotRunning (container not live),
// ErrTimeout (deadline expired, stream torn down), ErrOutputLimit
// (accumulated output exceeded the cap).
func (c *Channel) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := c.validate(req.Argv); err != nil {
		return nil, err
	}

	info, err := c.runtime.FindContainer(ctx, req.ContainerName)
	if err != nil {
		return nil, err
	}
	if !info.Running() {
		return nil, errors.Wrapf(errors.ErrNotRunning, "container %q is %s", req.ContainerName, info.State)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(c.cfg.DefaultTimeoutSecs) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := req.WorkDir
	if workDir == "" {
		workDir = c.cfg.DefaultWorkDir
	}
	user := req.User
	if user == "" {
		user = c.cfg.DefaultInvokingUser
	}

	execID, err := c.runtime.ExecCreate(execCtx, info.ID, runtime.ExecSpec{
		Cmd:        req.Argv,
		WorkingDir: workDir,
		User:       user,
		Env:        req.Env,
	})
	if err != nil {
		return nil, err
	}

	stream, err := c.runtime.ExecAttach(execCtx, execID)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	dm := newDemuxer(c.cfg.MaxOutputBytes, c.cfg.WarnOutputRatio, c.log)

	streamErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, readErr := stream.Read(buf)
			if n > 0 {
				if feedErr := dm.feed(buf[:n]); feedErr != nil {
					streamErr <- feedErr
					return
				}
			}
			if readErr == io.EOF {
				streamErr <- nil
				return
			}
			if readErr != nil {
				streamErr <- readErr
				return
			}
		}
	}()

	select {
	case err := <-streamErr:
		stream.Close()
		if err != nil {
			if errors.IsOutputLimit(err) {
				c.log.Warnw("Execution aborted: output cap exceeded",
					"container", req.ContainerName,
					"argv0", req.Argv[0],
				)
				return nil, err
			}
			return nil, errors.Wrap(err, "exec stream failed")
		}
	case <-execCtx.Done():
		// Forcible teardown: closing the stream unblocks the reader.
		stream.Close()
		return nil, errors.Wrapf(errors.ErrTimeout, "command exceeded %s", timeout)
	}

	completedAt := time.Now()
	exitCode := c.confirmExitCode(execCtx, execID, req.ContainerName)

	return &Result{
		ExitCode:    exitCode,
		Stdout:      string(dm.Stdout()),
		Stderr:      string(dm.Stderr()),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
	}, nil
}

// confirmExitCode polls the exec inspection endpoint until a recorded exit
// code appears. The output stream can close before the runtime records the
// code, so the first poll may still see the session as running. After the
// bounded attempts the result defaults to 0 with a logged warning; under
// adverse scheduling this can mask a genuine non-zero exit.
func (c *Channel) confirmExitCode(ctx context.Context, execID, containerName string) int {
	delay := time.Duration(c.cfg.ExitPollDelayMs) * time.Millisecond

poll:
	for attempt := 0; attempt < c.cfg.ExitPollAttempts; attempt++ {
		code, err := c.runtime.ExecExitCode(ctx, execID)
		if err == nil && code != nil {
			return *code
		}
		if attempt == c.cfg.ExitPollAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(delay):
		}
	}

	c.log.Warnw("Exit code not recorded after polling, defaulting to 0",
		"container", containerName,
		"exec_id", execID,
		"attempts", c.cfg.ExitPollAttempts,
	)
	return 0
}
