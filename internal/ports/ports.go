package ports

import (
	"context"
	"time"

	"github.com/forPelevin/clipstitch/internal/types"
)

// RunResult is what an external media command leaves behind.
type RunResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes one external command given as an argument list.
// A non-zero exit, a timeout or a spawn failure is returned as an error.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, bin string, args ...string) (RunResult, error)
}

// Prober reads media metadata.
type Prober interface {
	// Probe never fails; unreadable files yield unknown/zero fields.
	Probe(ctx context.Context, path string) types.ClipDescriptor
	// Duration is strict: it errors when the duration cannot be trusted.
	Duration(ctx context.Context, path string) (time.Duration, error)
}
