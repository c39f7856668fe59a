package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/metrics"
	"github.com/orbitalci/orbital/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace orbital's sandboxes live in.
	DefaultNamespace = "orbital"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// idleCommand keeps a sandbox's task alive between step execs; every
	// pipeline step runs as a separate Exec against this task rather than
	// as its own container.
	idleCommandName = "tail"
)

var idleCommand = []string{idleCommandName, "-f", "/dev/null"}

// Manager creates, execs into, and destroys containerd-backed sandboxes.
type Manager struct {
	client    *containerd.Client
	namespace string
	bus       *eventbus.Bus

	mu      sync.Mutex
	pending map[string]*types.Sandbox
	execs   map[string]map[string]struct{} // sandboxID -> set of live exec IDs
}

// NewManager connects to containerd at socketPath (DefaultSocketPath if
// empty) and returns a Manager publishing lifecycle events on bus.
func NewManager(socketPath string, bus *eventbus.Bus) (*Manager, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, orbitalerrors.SandboxSetupError(err)
	}

	return &Manager{
		client:    client,
		namespace: DefaultNamespace,
		bus:       bus,
		pending:   make(map[string]*types.Sandbox),
		execs:     make(map[string]map[string]struct{}),
	}, nil
}

// Close closes the underlying containerd client connection.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func (m *Manager) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, m.namespace)
}

// Create pulls image if necessary, starts a long-lived idle task, and
// registers the resulting sandbox in the pending set so Shutdown can find
// it even if the caller never calls Destroy.
func (m *Manager) Create(ctx context.Context, workflowID, pipelineID, image string) (*types.Sandbox, error) {
	ctx = m.ctx(ctx)
	timer := metrics.NewTimer()

	img, err := m.client.GetImage(ctx, image)
	if err != nil {
		img, err = m.client.Pull(ctx, image, containerd.WithPullUnpack)
		if err != nil {
			return nil, orbitalerrors.SandboxSetupError(err).WithDetailsf("pull %s", image)
		}
	}

	sandboxID := uuid.NewString()
	env := []string{fmt.Sprintf("ORBITAL_SANDBOX_ID=%s", sandboxID)}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(img),
		oci.WithEnv(env),
		oci.WithProcessArgs(idleCommand...),
	}

	container, err := m.client.NewContainer(
		ctx,
		sandboxID,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(sandboxID+"-snapshot", img),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, orbitalerrors.SandboxSetupError(err).WithDetails("create container")
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, orbitalerrors.SandboxSetupError(err).WithDetails("create task")
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, orbitalerrors.SandboxSetupError(err).WithDetails("start task")
	}

	sb := &types.Sandbox{
		ID:            sandboxID,
		WorkflowID:    workflowID,
		PipelineID:    pipelineID,
		Image:         image,
		ContainerID:   container.ID(),
		WorkspacePath: "/workspace",
		Env:           map[string]string{"ORBITAL_SANDBOX_ID": sandboxID},
		State:         types.SandboxReady,
		CreatedAt:     time.Now(),
		ReadyAt:       time.Now(),
	}

	m.mu.Lock()
	m.pending[sandboxID] = sb
	m.execs[sandboxID] = make(map[string]struct{})
	m.mu.Unlock()

	timer.ObserveDuration(metrics.SandboxCreateDuration)
	metrics.SandboxesTotal.WithLabelValues(string(types.SandboxReady)).Inc()
	m.publish(types.EventSandboxCreated, sandboxID, workflowID)

	log.WithSandboxID(sandboxID).Info().Str("image", image).Msg("sandbox created")
	return sb, nil
}

// CloneSource clones repoURL at ref into the sandbox's workspace by
// exec-ing git inside the container; it never touches the host filesystem.
func (m *Manager) CloneSource(ctx context.Context, sandboxID, repoURL, ref string) error {
	command := []string{"git", "clone", "--depth", "1"}
	if ref != "" {
		command = append(command, "--branch", ref)
	}
	command = append(command, repoURL, "/workspace/src")

	stdout, stderr, exitCode, err := m.Exec(ctx, sandboxID, command)
	if err != nil {
		return orbitalerrors.SourceCloneError(repoURL, err)
	}
	if exitCode != 0 {
		return orbitalerrors.SourceCloneError(repoURL, fmt.Errorf("git exited %d: %s", exitCode, stderr))
	}
	_ = stdout
	return nil
}

// ProgressFunc receives each framed STDOUT:/STDERR: line as it is
// appended to the sandbox's log buffer, for a caller that wants to
// surface exec progress live rather than waiting for the final result.
type ProgressFunc func(line string)

// Exec runs command to completion inside sandboxID's task, buffering
// stdout/stderr, and returns its exit code. It satisfies
// pkg/health.Execer so health checks can run inside a sandbox.
func (m *Manager) Exec(ctx context.Context, sandboxID string, command []string) (stdout, stderr string, exitCode int, err error) {
	result, execErr := m.ExecStream(ctx, sandboxID, command, nil)
	if result == nil {
		return "", "", -1, execErr
	}
	return result.Stdout, result.Stderr, result.ExitCode, execErr
}

// ExecStream runs command inside sandboxID's task, line-framing
// stdout/stderr as STDOUT:/STDERR: into the sandbox's append-only log
// buffer as output arrives rather than buffering it all in memory first
// — the detail the teacher's containerd wrapper never needed because its
// containers ran long-lived services started with cio.NullIO. progressCB,
// if non-nil, is also invoked with each framed line as it is appended.
func (m *Manager) ExecStream(ctx context.Context, sandboxID string, command []string, progressCB ProgressFunc) (*types.ExecResult, error) {
	start := time.Now()
	ctx = m.ctx(ctx)

	container, err := m.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		return nil, orbitalerrors.CommandError(joinCommand(command), -1, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, orbitalerrors.CommandError(joinCommand(command), -1, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return nil, orbitalerrors.CommandError(joinCommand(command), -1, err)
	}
	pspec := *spec.Process
	pspec.Args = command

	stdout := m.lineWriter(sandboxID, "STDOUT", progressCB)
	stderr := m.lineWriter(sandboxID, "STDERR", progressCB)
	result := func(code int, timedOut bool) *types.ExecResult {
		return &types.ExecResult{
			Command:  command,
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
			TimedOut: timedOut,
		}
	}

	execID := uuid.NewString()
	process, err := task.Exec(ctx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, stdout, stderr)))
	if err != nil {
		return nil, orbitalerrors.CommandError(joinCommand(command), -1, err)
	}

	m.trackExec(sandboxID, execID, true)
	defer m.trackExec(sandboxID, execID, false)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, orbitalerrors.CommandError(joinCommand(command), -1, err)
	}

	if err := process.Start(ctx); err != nil {
		return nil, orbitalerrors.CommandError(joinCommand(command), -1, err)
	}

	select {
	case status := <-statusC:
		code, _, _ := status.Result()
		_, _ = process.Delete(ctx)
		if code != 0 {
			return result(int(code), false), orbitalerrors.CommandError(joinCommand(command), int(code), nil)
		}
		return result(int(code), false), nil
	case <-ctx.Done():
		_ = process.Kill(ctx, syscall.SIGKILL)
		_, _ = process.Delete(ctx)
		return result(-1, true), orbitalerrors.Timeout(joinCommand(command))
	}
}

// lineWriter returns an io.Writer that frames incoming bytes into lines
// prefixed with streamName, appending each to sandboxID's log buffer and
// invoking cb (if non-nil) as lines complete. Its String method returns
// everything written so far, framed or not.
func (m *Manager) lineWriter(sandboxID, streamName string, cb ProgressFunc) *execLineWriter {
	return &execLineWriter{mgr: m, sandboxID: sandboxID, streamName: streamName, cb: cb}
}

type execLineWriter struct {
	mgr        *Manager
	sandboxID  string
	streamName string
	cb         ProgressFunc

	buf     bytes.Buffer
	pending []byte
}

func (w *execLineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(w.pending[:idx])
		w.pending = w.pending[idx+1:]
		framed := w.streamName + ": " + line
		w.mgr.appendLog(w.sandboxID, framed)
		if w.cb != nil {
			w.cb(framed)
		}
	}
	return len(p), nil
}

func (w *execLineWriter) String() string {
	return w.buf.String()
}

func (m *Manager) appendLog(sandboxID, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sb, ok := m.pending[sandboxID]; ok {
		sb.LogLines = append(sb.LogLines, line)
	}
}

// Snapshot commits the sandbox's current active filesystem snapshot under
// a new, addressable name and reopens a fresh writable snapshot on top of
// it so the running container keeps using the same key — the operation
// backing the snapshot_creation pipeline step (pkg/pipeline). A later step
// or a retried pipeline can fork from the committed name instead of
// re-provisioning the sandbox from the base image.
func (m *Manager) Snapshot(ctx context.Context, sandboxID string) (string, error) {
	ctx = m.ctx(ctx)
	snapshotter := m.client.SnapshotService(containerd.DefaultSnapshotter)

	activeKey := sandboxID + "-snapshot"
	committed := fmt.Sprintf("%s-snap-%s", sandboxID, uuid.NewString())

	if err := snapshotter.Commit(ctx, committed, activeKey); err != nil {
		return "", orbitalerrors.Wrap(err, orbitalerrors.TypeSandboxSetup, "failed to commit sandbox snapshot")
	}

	if _, err := snapshotter.Prepare(ctx, activeKey, committed); err != nil {
		return "", orbitalerrors.Wrap(err, orbitalerrors.TypeSandboxSetup, "failed to reopen sandbox snapshot")
	}

	log.WithSandboxID(sandboxID).Info().Str("snapshot_id", committed).Msg("sandbox snapshot created")
	return committed, nil
}

// Cancel kills every in-flight exec for sandboxID without destroying the
// sandbox itself, so later execs can still use the sandbox.
func (m *Manager) Cancel(ctx context.Context, sandboxID string) error {
	ctx = m.ctx(ctx)

	container, err := m.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		return orbitalerrors.NotFound("sandbox", sandboxID)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	m.mu.Lock()
	execIDs := make([]string, 0, len(m.execs[sandboxID]))
	for id := range m.execs[sandboxID] {
		execIDs = append(execIDs, id)
	}
	m.mu.Unlock()

	for _, execID := range execIDs {
		process, err := task.LoadProcess(ctx, execID, nil)
		if err != nil {
			continue
		}
		_ = process.Kill(ctx, syscall.SIGKILL)
	}
	return nil
}

// Destroy stops the sandbox's task and deletes the container and its
// snapshot. Idempotent: destroying an already-destroyed or unknown
// sandbox is not an error.
func (m *Manager) Destroy(ctx context.Context, sandboxID string) error {
	ctx = m.ctx(ctx)
	timer := metrics.NewTimer()

	container, err := m.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		m.forget(sandboxID)
		return nil
	}

	if task, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = task.Kill(stopCtx, syscall.SIGTERM)
		statusC, waitErr := task.Wait(stopCtx)
		if waitErr == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = task.Kill(ctx, syscall.SIGKILL)
			}
		}
		cancel()
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return orbitalerrors.Wrap(err, orbitalerrors.TypeSandboxSetup, "failed to delete sandbox "+sandboxID)
	}

	m.forget(sandboxID)
	timer.ObserveDuration(metrics.SandboxDestroyDuration)
	metrics.SandboxesTotal.WithLabelValues(string(types.SandboxDestroyed)).Inc()
	m.publish(types.EventSandboxDestroyed, sandboxID, "")

	log.WithSandboxID(sandboxID).Info().Msg("sandbox destroyed")
	return nil
}

// Shutdown destroys every sandbox still tracked as pending. It is the
// guaranteed-release hook cmd/orbital's serve command runs when it shuts
// down after SIGINT/SIGTERM; it does not run if the process dies without
// returning from serve (a crash or SIGKILL).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil {
			metrics.SandboxLeaksTotal.Inc()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PendingCount reports how many sandboxes are currently tracked as live,
// for tests and diagnostics.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) trackExec(sandboxID, execID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.execs[sandboxID]
	if !ok {
		set = make(map[string]struct{})
		m.execs[sandboxID] = set
	}
	if active {
		set[execID] = struct{}{}
	} else {
		delete(set, execID)
	}
	if sb, ok := m.pending[sandboxID]; ok {
		sb.ActiveExecs = len(set)
	}
}

func (m *Manager) forget(sandboxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, sandboxID)
	delete(m.execs, sandboxID)
}

func (m *Manager) publish(eventType types.EventType, sandboxID, workflowID string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(types.Event{
		Type:          eventType,
		Source:        "sandbox",
		CorrelationID: sandboxID,
		Payload:       map[string]string{"workflow_id": workflowID, "sandbox_id": sandboxID},
	})
}

func joinCommand(command []string) string {
	out := ""
	for i, part := range command {
		if i > 0 {
			out += " "
		}
		out += part
	}
	return out
}
