package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/ports"
)

const stderrTailBytes = 2048

// Default per-operation timeouts.
const (
	ProbeTimeout  = 30 * time.Second
	TrimTimeout   = 2 * time.Minute
	EncodeTimeout = 30 * time.Minute
)

// ErrEmptyOutput is returned when a command exits 0 but leaves no usable file.
var ErrEmptyOutput = errors.New("output missing or empty")

// ExitError describes a failed external command.
type ExitError struct {
	Bin      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	name := filepath.Base(e.Bin)
	if e.ExitCode < 0 {
		return fmt.Sprintf("%s: %v\n%s", name, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d\n%s", name, e.ExitCode, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exec runs commands with os/exec. Arguments are never passed through a shell.
type Exec struct {
	log zerolog.Logger
}

func NewExec(log zerolog.Logger) *Exec {
	return &Exec{log: log}
}

func (e *Exec) Run(ctx context.Context, timeout time.Duration, bin string, args ...string) (ports.RunResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ports.RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	e.log.Debug().
		Str("bin", filepath.Base(bin)).
		Strs("args", args).
		Dur("took", time.Since(start)).
		Err(err).
		Msg("command finished")
	if err == nil {
		return res, nil
	}

	xerr := &ExitError{Bin: bin, ExitCode: -1, Stderr: tail(stderr.Bytes(), stderrTailBytes), Err: err}
	var ee *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		xerr.Err = fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	case errors.As(err, &ee):
		xerr.ExitCode = ee.ExitCode()
	}
	res.ExitCode = xerr.ExitCode
	return res, xerr
}

// VerifyOutput enforces that a "successful" command actually produced a file.
func VerifyOutput(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrEmptyOutput)
		}
		return err
	}
	if !fi.Mode().IsRegular() || fi.Size() == 0 {
		return fmt.Errorf("%s: %w", path, ErrEmptyOutput)
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
