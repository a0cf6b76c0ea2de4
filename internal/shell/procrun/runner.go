// Package procrun supervises external command execution: streamed output,
// bounded buffering, timeouts with pre-expiry warning, cooperative
// cancellation, and guaranteed process cleanup.
package procrun

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// =============================================================================
// Request / Result
// =============================================================================

// Stream tags a chunk of process output.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Request describes one supervised command invocation. Immutable once
// submitted to Run. The command is spawned directly, never through a shell.
type Request struct {
	Command string
	Args    []string

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Env entries override the inherited environment.
	Env map[string]string

	// PathPrepend entries are prepended to the inherited PATH.
	PathPrepend []string

	// Timeout bounds the whole run. Zero disables the timeout.
	Timeout time.Duration

	// WarnBefore fires OnTimeoutWarning this long before Timeout expires,
	// for caller-side feedback on long-running builds. Ignored when zero or
	// when it does not fit inside Timeout.
	WarnBefore time.Duration

	// MaxOutputBytes caps each of the stdout, stderr, and combined buffers.
	// Zero means DefaultMaxOutputBytes.
	MaxOutputBytes int

	// Streaming callbacks. All are optional and are invoked from reader
	// goroutines as chunks arrive.
	OnStdout         func(chunk string)
	OnStderr         func(chunk string)
	OnChunk          func(stream Stream, chunk string)
	OnTimeoutWarning func(remaining time.Duration)
}

// Result encodes every way a run can end. Exactly one of a natural exit,
// a timeout, a cancellation, or a spawn error explains it.
type Result struct {
	// ExitCode is nil when the process never exited on its own
	// (spawn failure or death by signal).
	ExitCode *int

	// Signal names the terminating signal, when there was one.
	Signal string

	Stdout   string
	Stderr   string
	Combined string

	Duration  time.Duration
	Cancelled bool
	TimedOut  bool
	Truncated bool

	// SpawnError is set when the process could not be started.
	SpawnError string

	// Success is true only for a clean exit code 0 with no abnormal flags.
	Success bool
}

// =============================================================================
// Runner
// =============================================================================

// DefaultMaxOutputBytes bounds each output buffer to 1 MiB.
const DefaultMaxOutputBytes = 1 << 20

// DefaultKillGrace is how long a process gets between SIGTERM and SIGKILL.
const DefaultKillGrace = 5 * time.Second

const readChunkSize = 4096

// Config configures a Runner.
type Config struct {
	// KillGrace is the delay between the graceful stop signal and the
	// forceful kill. Default: 5 seconds.
	KillGrace time.Duration
}

// Runner executes supervised external commands. Safe for concurrent use;
// each Run owns its process exclusively.
type Runner struct {
	killGrace time.Duration
	logger    *slog.Logger
}

// NewRunner creates a process runner.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.KillGrace == 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		killGrace: cfg.KillGrace,
		logger:    logger.With("component", "procrun"),
	}
}

// Run executes the request to completion. It never returns an error: every
// failure mode is encoded in the Result.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	// A request cancelled before spawn returns immediately without ever
	// creating a process.
	if ctx.Err() != nil {
		return Result{Cancelled: true, Duration: time.Since(start)}
	}

	maxBytes := req.MaxOutputBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	stdout := newRingBuffer(maxBytes)
	stderr := newRingBuffer(maxBytes)
	combined := newRingBuffer(maxBytes)

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(req.Env, req.PathPrepend)
	// Own process group so termination reaches child processes too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{SpawnError: err.Error(), Duration: time.Since(start)}
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{SpawnError: err.Error(), Duration: time.Since(start)}
	}

	if err := cmd.Start(); err != nil {
		r.logger.Debug("spawn failed", "command", req.Command, "error", err)
		return Result{SpawnError: err.Error(), Duration: time.Since(start)}
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		r.stream(outPipe, StreamStdout, stdout, combined, req.OnStdout, req.OnChunk)
	}()
	go func() {
		defer readers.Done()
		r.stream(errPipe, StreamStderr, stderr, combined, req.OnStderr, req.OnChunk)
	}()

	// Wait must not run before both pipes hit EOF.
	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	var warnCh, timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timeoutTimer := time.NewTimer(req.Timeout)
		defer timeoutTimer.Stop()
		timeoutCh = timeoutTimer.C

		if req.WarnBefore > 0 && req.WarnBefore < req.Timeout {
			warnTimer := time.NewTimer(req.Timeout - req.WarnBefore)
			defer warnTimer.Stop()
			warnCh = warnTimer.C
		}
	}

	var res Result
	var waitErr error

wait:
	for {
		select {
		case waitErr = <-done:
			break wait

		case <-warnCh:
			warnCh = nil
			if req.OnTimeoutWarning != nil {
				req.OnTimeoutWarning(req.WarnBefore)
			}

		case <-timeoutCh:
			res.TimedOut = true
			r.logger.Warn("command timed out, terminating",
				"command", req.Command,
				"timeout", req.Timeout,
			)
			waitErr = r.terminate(cmd, done)
			break wait

		case <-ctx.Done():
			res.Cancelled = true
			waitErr = r.terminate(cmd, done)
			break wait
		}
	}

	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Combined = combined.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated() || combined.Truncated()
	fillExitState(&res, waitErr)
	res.Success = !res.Cancelled && !res.TimedOut && res.SpawnError == "" &&
		res.ExitCode != nil && *res.ExitCode == 0

	return res
}

// stream copies pipe output into buffers and callbacks in small chunks.
func (r *Runner) stream(pipe io.Reader, tag Stream, own, combined *ringBuffer, onStream func(string), onChunk func(Stream, string)) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			own.Write(chunk)
			combined.Write(chunk)
			if onStream != nil {
				onStream(string(chunk))
			}
			if onChunk != nil {
				onChunk(tag, string(chunk))
			}
		}
		if err != nil {
			return
		}
	}
}

// terminate stops the process: graceful signal first, forceful kill after the
// grace period. Signalling an already-gone process is treated as success, so
// termination is idempotent. Returns the process's Wait error.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) error {
	r.signal(cmd, syscall.SIGTERM)

	select {
	case err := <-done:
		return err
	case <-time.After(r.killGrace):
		r.signal(cmd, syscall.SIGKILL)
		return <-done
	}
}

// signal delivers sig to the whole process group, swallowing "no such
// process" and anything else from a racing exit.
func (r *Runner) signal(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Debug("signal delivery failed", "signal", sig, "error", err)
	}
}

// fillExitState decodes cmd.Wait's error into exit code and signal.
func fillExitState(res *Result, waitErr error) {
	if waitErr == nil {
		code := 0
		res.ExitCode = &code
		return
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		// Wait itself failed; nothing to decode.
		if res.SpawnError == "" {
			res.SpawnError = waitErr.Error()
		}
		return
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() {
		res.Signal = status.Signal().String()
		return
	}

	code := exitErr.ExitCode()
	res.ExitCode = &code
}

// buildEnv merges overrides into the inherited environment and prepends
// extra PATH entries.
func buildEnv(overrides map[string]string, pathPrepend []string) []string {
	env := os.Environ()

	if len(pathPrepend) > 0 {
		prefix := strings.Join(pathPrepend, string(os.PathListSeparator))
		found := false
		for i, kv := range env {
			if strings.HasPrefix(kv, "PATH=") {
				env[i] = "PATH=" + prefix + string(os.PathListSeparator) + kv[len("PATH="):]
				found = true
				break
			}
		}
		if !found {
			env = append(env, "PATH="+prefix)
		}
	}

	for k, v := range overrides {
		replaced := false
		for i, kv := range env {
			if strings.HasPrefix(kv, k+"=") {
				env[i] = k + "=" + v
				replaced = true
				break
			}
		}
		if !replaced {
			env = append(env, k+"="+v)
		}
	}

	return env
}
