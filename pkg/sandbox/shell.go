package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"
)

// DefaultTimeout bounds a single command when the caller does not choose.
const DefaultTimeout = 60 * time.Second

// Shell implements Runner on the host using sh -c (powershell on Windows).
type Shell struct {
	// Dir is the working directory of every command.
	Dir string
	// Timeout bounds each command. Zero disables the limit.
	Timeout time.Duration
	// MaxOutput caps the bytes captured per stream. Zero means unlimited.
	MaxOutput int
}

var _ Runner = (*Shell)(nil)

// NewShell returns a Shell running commands in dir with the default timeout.
func NewShell(dir string) *Shell {
	return &Shell{Dir: dir, Timeout: DefaultTimeout}
}

func (s *Shell) Run(ctx context.Context, command string) Outcome {
	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	name, args := shellArgs(command)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = s.Dir
	setupProcessGroup(cmd)

	stdout := NewLimitedBuffer(s.MaxOutput)
	stderr := NewLimitedBuffer(s.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	slog.Info("Running command", "command", command, "dir", s.Dir)
	err := cmd.Run()

	out := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
	}
	out.Output = out.Stdout + out.Stderr
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	// Expiry and cancellation take precedence over the exit status, which
	// only reflects the kill.
	if ctxErr := runCtx.Err(); ctxErr != nil {
		reason := "cancelled"
		if ctx.Err() == nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", s.Timeout)
		}
		slog.Warn("Command stopped", "command", command, "reason", reason, "elapsed", time.Since(start))
		out.Kind = KindTimedOut
		out.Output = AppendLaunchError(out.Output, reason)
		return out
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("Command exited", "command", command, "code", out.ExitCode)
			return out
		}
		slog.Error("Failed to launch command", "command", command, "error", err)
		return Outcome{
			Output:   LaunchError(err.Error()),
			ExitCode: -1,
			Kind:     KindCommandLaunchError,
		}
	}

	slog.Debug("Command finished", "command", command, "elapsed", time.Since(start))
	return out
}

func (s *Shell) Close() error { return nil }

func shellArgs(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", command}
	}
	return "sh", []string{"-c", command}
}

// LimitedBuffer keeps at most limit bytes and silently discards the rest.
// A limit of zero or less keeps everything.
type LimitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func NewLimitedBuffer(limit int) *LimitedBuffer {
	return &LimitedBuffer{limit: limit}
}

func (l *LimitedBuffer) Write(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *LimitedBuffer) String() string {
	if l.truncated {
		return l.buf.String() + "\n[output truncated]\n"
	}
	return l.buf.String()
}
