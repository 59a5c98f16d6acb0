package muxer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Defaults for process supervision.
const (
	DefaultTimeout   = 2 * time.Hour
	DefaultKillGrace = 10 * time.Second

	// stderrTailSize bounds how much stderr is retained for failure
	// reporting.
	stderrTailSize = 128 * 1024
)

// Supervisor runs mux commands under a wall-clock cap with graceful
// termination and stderr progress parsing.
type Supervisor struct {
	binary    string
	timeout   time.Duration
	killGrace time.Duration
	logger    *slog.Logger
}

// NewSupervisor creates a supervisor. An empty binary falls back to "ffmpeg"
// on PATH.
func NewSupervisor(binary string, timeout, killGrace time.Duration, logger *slog.Logger) *Supervisor {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &Supervisor{
		binary:    binary,
		timeout:   timeout,
		killGrace: killGrace,
		logger:    logger.With("component", "muxer"),
	}
}

// Builder returns a command builder bound to the supervisor's binary.
func (s *Supervisor) Builder() *CommandBuilder {
	return NewCommandBuilder(s.binary)
}

// Mux runs the built command. Progress samples parsed from stderr are handed
// to onProgress when non-nil. The outcome travels as a DownloadResult:
// cancellation and muxer failure are expected conditions, not errors.
func (s *Supervisor) Mux(ctx context.Context, builder *CommandBuilder, onProgress func(Update)) models.DownloadResult {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := builder.Build()
	cmd := exec.CommandContext(runCtx, s.binary, args...)
	// Graceful stop: SIGTERM on cancellation, SIGKILL once the grace period
	// elapses.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.killGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return models.Failure("starting muxer", fmt.Errorf("stderr pipe: %w", err))
	}

	s.logger.Debug("starting muxer",
		slog.String("binary", s.binary),
		slog.String("output", builder.output),
		slog.Int("inputs", len(builder.InputPaths())),
	)

	if err := cmd.Start(); err != nil {
		return models.Failure("starting muxer", fmt.Errorf("starting %s: %w", s.binary, err))
	}

	monitorCtx, stopMonitor := context.WithCancel(runCtx)
	defer stopMonitor()
	go monitorProcess(monitorCtx, s.logger, cmd.Process.Pid)

	parser := NewParser()
	tail := newTailBuffer(stderrTailSize)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteLine(line)
		if update, ok := parser.ParseLine(line); ok && onProgress != nil {
			onProgress(update)
		}
	}

	err = cmd.Wait()
	if err == nil {
		return models.Success("mux completed")
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return models.CancelledResult()
	}

	mergeErr := &models.MergeError{
		InputPaths: builder.InputPaths(),
		OutputPath: builder.output,
		ExitCode:   exitCode(err),
		Stderr:     tail.String(),
	}

	message := fmt.Sprintf("muxer failed with exit code %d", mergeErr.ExitCode)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		message = fmt.Sprintf("muxer timed out after %s", s.timeout)
	}

	s.logger.Error("mux failed",
		slog.String("output", builder.output),
		slog.Int("exit_code", mergeErr.ExitCode),
		slog.String("error", err.Error()),
	)

	return models.Failure(message, mergeErr)
}

// exitCode extracts the child's exit code, or -1 when it was killed.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tailBuffer retains the last max bytes of written lines.
type tailBuffer struct {
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) WriteLine(line string) {
	b.data = append(b.data, line...)
	b.data = append(b.data, '\n')
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	return string(b.data)
}
