package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"treadle.sh/core/log"
	"treadle.sh/core/treadle/config"
	"treadle.sh/core/treadle/engine"
	"treadle.sh/core/treadle/models"
	"treadle.sh/core/treadle/secrets"
	"treadle.sh/core/workflow"
)

const workspaceDir = "/treadle/workspace"

type cleanupFunc func(context.Context) error

// Engine runs workflow steps in disposable Docker containers. Each
// workflow gets its own workspace volume and bridge network; each
// step runs in a fresh container sharing them.
type Engine struct {
	docker client.APIClient
	l      *slog.Logger
	cfg    *config.Config

	cleanupMu sync.Mutex
	cleanup   map[string][]cleanupFunc
}

func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	l := log.FromContext(ctx).With("component", "docker-engine")

	return &Engine{
		docker:  dcli,
		l:       l,
		cfg:     cfg,
		cleanup: make(map[string][]cleanupFunc),
	}, nil
}

type Step struct {
	name            string
	kind            models.StepKind
	command         string
	uses            string
	with            map[string]string
	environment     map[string]string
	continueOnError bool
}

func (s Step) Name() string          { return s.name }
func (s Step) Command() string       { return s.command }
func (s Step) Kind() models.StepKind { return s.kind }
func (s Step) ContinueOnError() bool { return s.continueOnError }

type addlFields struct {
	image string
	env   map[string]string
}

func (e *Engine) InitWorkflow(cw workflow.CompiledWorkflow, t workflow.Trigger) (*models.Workflow, error) {
	wf := &models.Workflow{
		Name:            cw.Name,
		Timeout:         cw.ResolvedTimeout,
		ContinueOnError: cw.ContinueOnError,
	}

	if s := cloneStep(cw, t, e.cfg.Server.Dev); s != nil {
		wf.Steps = append(wf.Steps, *s)
	}

	for _, dstep := range cw.Steps {
		wf.Steps = append(wf.Steps, Step{
			name:            dstep.Name,
			kind:            models.StepKindUser,
			command:         dstep.Command,
			uses:            dstep.Uses,
			with:            dstep.With,
			environment:     dstep.Environment,
			continueOnError: dstep.ContinueOnError,
		})
	}

	wf.Data = addlFields{
		image: workflowImage(cw.Dependencies, e.cfg.Runs.ImageBase),
		env:   cw.Environment,
	}

	return wf, nil
}

// SetupWorkflow provisions the sandbox: a workspace volume, a bridge
// network, and the workflow image. Any error here is a provision
// failure; no step has run yet.
func (e *Engine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	e.l.Info("setting up workflow", "workflow", wid)

	_, err := e.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   workspaceVolume(wid),
		Driver: "local",
	})
	if err != nil {
		return fmt.Errorf("%w: creating volume: %w", engine.ErrProvisionFailed, err)
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.VolumeRemove(ctx, workspaceVolume(wid), true)
	})

	_, err = e.docker.NetworkCreate(ctx, networkName(wid), network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("%w: creating network: %w", engine.ErrProvisionFailed, err)
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.NetworkRemove(ctx, networkName(wid))
	})

	addl := wf.Data.(addlFields)
	if err := e.pullImage(ctx, addl.image); err != nil {
		e.l.Error("workflow image pull failed", "image", addl.image, "workflow", wid, "error", err)
		return fmt.Errorf("%w: pulling image: %w", engine.ErrProvisionFailed, err)
	}

	return nil
}

func (e *Engine) pullImage(ctx context.Context, img string) error {
	reader, err := e.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (e *Engine) RunStep(ctx context.Context, wid models.WorkflowId, wf *models.Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *models.WorkflowLogger) error {
	addl := wf.Data.(addlFields)
	step := wf.Steps[idx].(Step)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	envs := engine.ConstructEnvs(addl.env)
	for _, s := range secrets {
		envs.AddEnv(s.Key, s.Value)
	}
	for _, kv := range engine.ConstructEnvs(step.environment) {
		envs = append(envs, kv)
	}
	// action parameters travel as INPUT_* variables
	withEnv := make(map[string]string, len(step.with))
	for k, v := range step.with {
		withEnv["INPUT_"+strings.ToUpper(k)] = v
	}
	envs = append(envs, engine.ConstructEnvs(withEnv)...)
	envs.AddEnv("HOME", workspaceDir)

	img := addl.image
	var cmd []string
	if step.uses != "" {
		// action step: its own image, default entrypoint
		img = usesImage(step.uses)
		if err := e.pullImage(ctx, img); err != nil {
			return fmt.Errorf("pulling action image %s: %w", img, err)
		}
	} else {
		cmd = []string{"bash", "-c", step.command}
	}

	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image:      img,
		Cmd:        cmd,
		WorkingDir: workspaceDir,
		Tty:        false,
		Hostname:   "treadle",
		Env:        envs.Slice(),
	}, hostConfig(wid), nil, nil, "")
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	defer e.DestroyStep(context.WithoutCancel(ctx), resp.ID)

	err = e.docker.NetworkConnect(ctx, networkName(wid), resp.ID, nil)
	if err != nil {
		return fmt.Errorf("connecting network: %w", err)
	}

	err = e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	if err != nil {
		return err
	}
	e.l.Info("started container", "name", resp.ID, "step", step.name)

	tailDone := make(chan error, 1)
	go func() {
		tailDone <- e.tailStep(ctx, wfLogger, resp.ID, idx)
	}()

	waitDone := make(chan struct{})
	var state *container.State
	var waitErr error

	go func() {
		defer close(waitDone)
		state, waitErr = e.waitStep(ctx, resp.ID)
	}()

	select {
	case <-waitDone:
		<-tailDone

	case <-ctx.Done():
		e.l.Warn("step timed out; killing container", "container", resp.ID, "step", step.name)
		if err := e.DestroyStep(context.WithoutCancel(ctx), resp.ID); err != nil {
			e.l.Error("failed to destroy step", "container", resp.ID, "error", err)
		}

		<-waitDone
		<-tailDone

		return engine.ErrTimedOut
	}

	if waitErr != nil {
		return waitErr
	}

	if state.ExitCode != 0 {
		e.l.Error("step failed", "workflow", wid.String(), "step", step.name, "exit_code", state.ExitCode, "oom_killed", state.OOMKilled)
		return &engine.ExitError{Code: int64(state.ExitCode), OOM: state.OOMKilled}
	}

	return nil
}

func (e *Engine) waitStep(ctx context.Context, containerID string) (*container.State, error) {
	wait, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-wait:
	}

	info, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return info.State, nil
}

func (e *Engine) tailStep(ctx context.Context, wfLogger *models.WorkflowLogger, containerID string, stepIdx int) error {
	if wfLogger == nil {
		return nil
	}

	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
		Details:    false,
		Timestamps: false,
	})
	if err != nil {
		return err
	}

	_, err = stdcopy.StdCopy(
		wfLogger.DataWriter(stepIdx, "stdout"),
		wfLogger.DataWriter(stepIdx, "stderr"),
		logs,
	)
	if err != nil && err != io.EOF && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to copy logs: %w", err)
	}

	return nil
}

func (e *Engine) DestroyStep(ctx context.Context, containerID string) error {
	err := e.docker.ContainerKill(ctx, containerID, "9") // SIGKILL
	if err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		RemoveLinks:   false,
		Force:         false,
	}); err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	return nil
}

func (e *Engine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	e.cleanupMu.Lock()
	key := wid.String()

	fns := e.cleanup[key]
	delete(e.cleanup, key)
	e.cleanupMu.Unlock()

	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			e.l.Error("failed to cleanup workflow resource", "workflow", wid, "error", err)
		}
	}
	return nil
}

func (e *Engine) registerCleanup(wid models.WorkflowId, fn cleanupFunc) {
	e.cleanupMu.Lock()
	defer e.cleanupMu.Unlock()

	key := wid.String()
	e.cleanup[key] = append(e.cleanup[key], fn)
}

func workspaceVolume(wid models.WorkflowId) string {
	return fmt.Sprintf("workspace-%s", wid)
}

func networkName(wid models.WorkflowId) string {
	return fmt.Sprintf("workflow-network-%s", wid)
}

func hostConfig(wid models.WorkflowId) *container.HostConfig {
	return &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: workspaceVolume(wid),
				Target: workspaceDir,
			},
			{
				Type:     mount.TypeTmpfs,
				Target:   "/tmp",
				ReadOnly: false,
				TmpfsOptions: &mount.TmpfsOptions{
					Mode: 0o1777, // world-writeable sticky bit
					Options: [][]string{
						{"exec"},
					},
				},
			},
		},
		ReadonlyRootfs: false,
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"CAP_DAC_OVERRIDE"},
		SecurityOpt:    []string{"no-new-privileges"},
		ExtraHosts:     []string{"host.docker.internal:host-gateway"},
	}
}

// thanks woodpecker
func isErrContainerNotFoundOrNotRunning(err error) bool {
	// Error response from daemon: Cannot kill container: ...: No such container: ...
	// Error response from daemon: Cannot kill container: ...: Container ... is not running"
	// Error response from podman daemon: can only kill running containers. ... is in state exited
	// Error: No such container: ...
	return err != nil && (strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "is not running") || strings.Contains(err.Error(), "can only kill running containers"))
}

var _ models.Engine = (*Engine)(nil)
