package ffmpeg

import (
	"context"
	"time"

	"github.com/forPelevin/clipstitch/internal/ports"
)

type fakeRunner struct {
	stdout []byte
	err    error
	calls  [][]string
	onRun  func(args []string)
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, bin string, args ...string) (ports.RunResult, error) {
	f.calls = append(f.calls, append([]string{bin}, args...))
	if f.onRun != nil {
		f.onRun(args)
	}
	return ports.RunResult{Stdout: f.stdout}, f.err
}
