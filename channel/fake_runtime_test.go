package channel

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/runtime"
)

// muxFrame builds one header+payload unit of the interleaved exec stream.
func muxFrame(selector byte, payload []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = selector
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	return frame
}

func muxStream(frames ...[]byte) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f)
	}
	return buf.Bytes()
}

// fakeRuntime implements runtime.ContainerRuntime for channel tests.
type fakeRuntime struct {
	mu         sync.Mutex
	containers []runtime.ContainerInfo

	execCalls int
	pollCalls int

	// stream served by ExecAttach; streamFn takes precedence when set
	stream   []byte
	streamFn func() io.ReadCloser

	// exit code becomes visible after exitAfterPolls inspection calls
	exitCode       int
	exitAfterPolls int
	neverExits     bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: []runtime.ContainerInfo{
			{ID: "abc123def456", Name: "pentest-tools", State: runtime.StateRunning},
			{ID: "fff000fff000", Name: "bbot-scanner", State: runtime.StateExited},
		},
	}
}

func (f *fakeRuntime) ListContainers(ctx context.Context) ([]runtime.ContainerInfo, error) {
	return f.containers, nil
}

func (f *fakeRuntime) FindContainer(ctx context.Context, nameOrID string) (*runtime.ContainerInfo, error) {
	for i := range f.containers {
		if f.containers[i].Name == nameOrID || f.containers[i].ID == nameOrID {
			return &f.containers[i], nil
		}
	}
	return nil, errors.NewNotFoundError("container %q", nameOrID)
}

func (f *fakeRuntime) ExecCreate(ctx context.Context, containerID string, spec runtime.ExecSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	f.pollCalls = 0
	return "exec-1", nil
}

func (f *fakeRuntime) ExecAttach(ctx context.Context, execID string) (io.ReadCloser, error) {
	if f.streamFn != nil {
		return f.streamFn(), nil
	}
	return io.NopCloser(bytes.NewReader(f.stream)), nil
}

func (f *fakeRuntime) ExecExitCode(ctx context.Context, execID string) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if f.neverExits || f.pollCalls <= f.exitAfterPolls {
		return nil, nil
	}
	code := f.exitCode
	return &code, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, containerID string) error   { return nil }
func (f *fakeRuntime) StopContainer(ctx context.Context, containerID string) error    { return nil }
func (f *fakeRuntime) RestartContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeRuntime) Logs(ctx context.Context, containerID string, tail int) ([]byte, error) {
	return nil, nil
}

func (f *fakeRuntime) CopyTo(ctx context.Context, containerID, destPath string, archive io.Reader) error {
	return nil
}

func (f *fakeRuntime) CopyFrom(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// blockingStream never delivers data until closed, simulating a command that
// produces no output before the deadline.
type blockingStream struct {
	closed chan struct{}
	once   sync.Once
}

func newBlockingStream() *blockingStream {
	return &blockingStream{closed: make(chan struct{})}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	<-s.closed
	return 0, io.EOF
}

func (s *blockingStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		MaxOutputBytes:      1024,
		WarnOutputRatio:     0.8,
		MaxCommandLength:    8192,
		DefaultTimeoutSecs:  5,
		ExitPollAttempts:    5,
		ExitPollDelayMs:     5,
		RetryBaseDelayMs:    20,
		DefaultInvokingUser: "root",
		DefaultWorkDir:      "/",
	}
}
