package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/models"
	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

// runner executes one wrapped script and returns its stdout and stderr.
// A nonzero container exit is not a runner error; the outcome marker (or
// its absence) tells the story.
type runner interface {
	run(ctx context.Context, cmd []string) (stdout, stderr string, err error)
}

// Pool is the singleton execution manager: bounded concurrency over
// short-lived containers. When Docker is unreachable the pool stays up and
// every Execute reports the unmet prerequisite.
type Pool struct {
	cfg   *config.SandboxConfig
	store store.CodeExecStore
	log   *slog.Logger

	sem chan struct{}
	run runner

	unavailable string
}

// NewPool connects to the Docker daemon and prepares the runtime image.
// Never fails: an unreachable daemon yields a pool that reports
// unavailability per call instead of crashing the server.
func NewPool(ctx context.Context, cfg *config.SandboxConfig, st store.CodeExecStore, logger *slog.Logger) *Pool {
	if cfg == nil {
		cfg = config.DefaultSandboxConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:   cfg,
		store: st,
		log:   logger.With("component", "sandbox"),
		sem:   make(chan struct{}, max(cfg.MaxConcurrent, 1)),
	}

	if !cfg.Enabled {
		p.unavailable = "disabled by configuration"
		return p
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		p.unavailable = fmt.Sprintf("Docker client init failed: %s", err)
		p.log.Warn("Code execution unavailable", "reason", p.unavailable)
		return p
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		p.unavailable = "Docker daemon is not reachable"
		p.log.Warn("Code execution unavailable", "reason", p.unavailable, "error", err)
		return p
	}

	// Pull is best-effort; the image may already exist locally.
	if reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{}); err != nil {
		p.log.Warn("Failed to pull sandbox image", "image", cfg.Image, "error", err)
	} else {
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
	}

	p.run = &dockerRunner{cli: cli, cfg: cfg}
	p.log.Info("Sandbox pool ready",
		"image", cfg.Image, "max_concurrent", cfg.MaxConcurrent,
		"memory_limit_mb", cfg.MemoryLimitMB)
	return p
}

// Available reports whether executions can run, with the reason when not.
func (p *Pool) Available() (bool, string) {
	return p.run != nil, p.unavailable
}

// Execute validates, schedules, and runs one code submission. Runtime
// failures and timeouts are data in the result; Go errors are reserved for
// an unavailable pool or capacity exhaustion.
func (p *Pool) Execute(ctx context.Context, req models.CodeExecRequest) (*models.CodeExecResult, error) {
	if p.run == nil {
		return nil, mxerr.Newf(mxerr.CodeOperationFailed,
			"code execution unavailable: %s", p.unavailable)
	}

	result := &models.CodeExecResult{
		CodeHash: CodeHash(req.Code),
		ResourceUsage: models.ResourceUsage{
			MemoryBytes: p.cfg.MemoryLimitMB << 20,
		},
	}

	if v := Validate(req.Code); !v.Safe {
		msgs := make([]string, 0, len(v.Issues))
		for _, issue := range v.Issues {
			if issue.Type == "error" {
				msgs = append(msgs, issue.Message)
			}
		}
		result.Error = string(mxerr.CodeValidationError) + ": " + strings.Join(msgs, "; ")
		p.audit(ctx, req, result)
		return result, nil
	}

	timeoutMS := p.clampTimeout(req.TimeoutMS)

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-p.sem }()

	script, err := buildScript(req.Code, req.Context, req.CaptureConsole)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	started := time.Now()
	stdout, stderr, runErr := p.run.run(execCtx, []string{"bun", "-e", script})
	result.ExecutionTimeMS = time.Since(started).Milliseconds()

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Sprintf("execution timed out after %dms", timeoutMS)
		result.ResourceUsage.Timeout = true
	case runErr != nil:
		p.audit(ctx, req, result)
		return nil, mxerr.Wrap(mxerr.CodeOperationFailed, "container execution failed", runErr)
	default:
		outcome, found := parseOutcome(stdout)
		if !found {
			result.Error = runtimeFailureMessage(stderr)
		} else {
			result.Success = outcome.Success
			result.Output = outcome.Output
			result.Logs = outcome.Logs
			result.Error = outcome.Error
		}
	}

	p.audit(ctx, req, result)
	return result, nil
}

func (p *Pool) clampTimeout(requested int) int {
	timeout := requested
	if timeout <= 0 {
		timeout = p.cfg.DefaultTimeoutMS
	}
	if timeout > p.cfg.MaxTimeoutMS {
		timeout = p.cfg.MaxTimeoutMS
	}
	if timeout < 1 {
		timeout = 1
	}
	return timeout
}

// acquire takes a pool slot, waiting at most the queue timeout.
func (p *Pool) acquire(ctx context.Context) error {
	queueTimeout := time.Duration(p.cfg.QueueTimeoutMS) * time.Millisecond
	if queueTimeout <= 0 {
		queueTimeout = 10 * time.Second
	}
	timer := time.NewTimer(queueTimeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return mxerr.New(mxerr.CodeQuotaExceeded, "sandbox is at capacity; try again shortly")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// audit writes the immutable execution record. Failure to audit is logged,
// not surfaced.
func (p *Pool) audit(ctx context.Context, req models.CodeExecRequest, result *models.CodeExecResult) {
	if p.store == nil {
		return
	}
	rec := models.CodeExecutionRecord{
		ID:            uuid.NewString(),
		AgentID:       req.AgentID,
		ChannelID:     req.ChannelID,
		CodeHash:      result.CodeHash,
		Language:      req.Language,
		Success:       result.Success,
		ExecutionTime: time.Duration(result.ExecutionTimeMS) * time.Millisecond,
		ResourceUsage: result.ResourceUsage,
		Error:         result.Error,
		ExecutedAt:    time.Now(),
	}
	if err := p.store.RecordExecution(ctx, rec); err != nil {
		p.log.Warn("Failed to record code execution",
			"agent_id", req.AgentID, "code_hash", result.CodeHash, "error", err)
	}
}

func runtimeFailureMessage(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return "runtime exited without producing a result"
	}
	lines := strings.Split(stderr, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}

// dockerRunner runs each script in a fresh container: no network, capped
// memory and CPU, removed on completion.
type dockerRunner struct {
	cli *client.Client
	cfg *config.SandboxConfig
}

func (r *dockerRunner) run(ctx context.Context, cmd []string) (string, string, error) {
	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           r.cfg.Image,
			Cmd:             cmd,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:    r.cfg.MemoryLimitMB << 20,
				CPUShares: r.cfg.CPUShares,
			},
		}, nil, nil, "")
	if err != nil {
		return "", "", fmt.Errorf("failed to create container: %w", err)
	}
	id := created.ID

	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", "", fmt.Errorf("failed to start container: %w", err)
	}

	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case err := <-errCh:
		return "", "", fmt.Errorf("container wait failed: %w", err)
	case <-waitCh:
	}

	logsCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logs, err := r.cli.ContainerLogs(logsCtx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("failed to demux container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}
