package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/nstogner/devcli/pkg/sandbox"
)

// DefaultImage is used when no image is configured.
const DefaultImage = "alpine:3.20"

// Runner implements sandbox.Runner by executing each command in a throwaway
// container. The root directory is bind-mounted at the same path, so paths
// the oracle sees are valid on both sides.
type Runner struct {
	cli     *client.Client
	image   string
	root    string
	timeout time.Duration

	// maxOutput caps the bytes kept per stream. Zero means unlimited.
	maxOutput int
}

// Ensure Runner implements sandbox.Runner
var _ sandbox.Runner = (*Runner)(nil)

// New creates a Runner using the docker environment (DOCKER_HOST etc.).
func New(image, root string, timeout time.Duration, maxOutput int) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = DefaultImage
	}

	return &Runner{
		cli:       cli,
		image:     image,
		root:      root,
		timeout:   timeout,
		maxOutput: maxOutput,
	}, nil
}

func (r *Runner) Close() error {
	return r.cli.Close()
}

func (r *Runner) Run(ctx context.Context, command string) sandbox.Outcome {
	if err := r.ensureImage(ctx); err != nil {
		return launchFailure(err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	name := fmt.Sprintf("devcli-cmd-%s", uuid.NewString())
	cfg := &container.Config{
		Image:      r.image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: r.root,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{r.root + ":" + r.root},
	}

	slog.Info("Running command in container", "command", command, "image", r.image, "container", name)
	resp, err := r.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return launchFailure(fmt.Errorf("failed to create container: %w", err))
	}
	defer r.remove(resp.ID)

	if err := r.cli.ContainerStart(runCtx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return launchFailure(fmt.Errorf("failed to start container: %w", err))
	}

	exitCode := -1
	var waitErr error
	statusCh, errCh := r.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
		if status.Error != nil {
			waitErr = errors.New(status.Error.Message)
		}
	case err := <-errCh:
		waitErr = err
	}

	// Logs are collected with a fresh context so that output produced before
	// a timeout is still reported.
	logCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stdout, stderr := r.logs(logCtx, resp.ID)

	out := sandbox.Outcome{
		Output:   stdout + stderr,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		reason := "cancelled"
		if ctx.Err() == nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", r.timeout)
		}
		out.Kind = sandbox.KindTimedOut
		out.ExitCode = -1
		out.Output = sandbox.AppendLaunchError(out.Output, reason)
		return out
	}
	if waitErr != nil {
		out.Kind = sandbox.KindCommandLaunchError
		out.Output = sandbox.AppendLaunchError(out.Output, waitErr.Error())
	}
	return out
}

func (r *Runner) ensureImage(ctx context.Context) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, r.image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %q: %w", r.image, err)
	}

	slog.Info("Pulling image", "image", r.image)
	rc, err := r.cli.ImagePull(ctx, r.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %q: %w", r.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %q: %w", r.image, err)
	}
	return nil
}

func (r *Runner) logs(ctx context.Context, id string) (string, string) {
	rc, err := r.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		slog.Warn("Failed to read container logs", "container", id, "error", err)
		return "", ""
	}
	defer rc.Close()

	stdout := sandbox.NewLimitedBuffer(r.maxOutput)
	stderr := sandbox.NewLimitedBuffer(r.maxOutput)
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		slog.Warn("Failed to demultiplex container logs", "container", id, "error", err)
	}
	return stdout.String(), stderr.String()
}

func (r *Runner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove container", "container", id, "error", err)
	}
}

func launchFailure(err error) sandbox.Outcome {
	slog.Error("Failed to launch command container", "error", err)
	return sandbox.Outcome{
		Output:   sandbox.LaunchError(err.Error()),
		ExitCode: -1,
		Kind:     sandbox.KindCommandLaunchError,
	}
}
