package stitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/ports/adapters/ffmpeg"
)

const (
	DefaultFPS = 30.0
	// DefaultDropoutTransition is how long amix fades when one track ends.
	DefaultDropoutTransition = 2.0
)

// trimTolerance keeps near-exact outputs from being re-cut.
const trimTolerance = 50 * time.Millisecond

type Config struct {
	FFmpegPath string
	// WorkDir holds the transient concat manifest.
	WorkDir           string
	FPS               float64
	DropoutTransition float64
}

// Engine joins normalized clips and attaches the voice track.
type Engine struct {
	runner ports.Runner
	prober ports.Prober
	cfg    Config
	log    zerolog.Logger
}

func New(r ports.Runner, p ports.Prober, cfg Config, log zerolog.Logger) *Engine {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.DropoutTransition <= 0 {
		cfg.DropoutTransition = DefaultDropoutTransition
	}
	return &Engine{runner: r, prober: p, cfg: cfg, log: log}
}

// Concatenate stream-copies clips, in order, into outputPath. Inputs must
// already share codec and stream layout.
func (e *Engine) Concatenate(ctx context.Context, clips []string, outputPath string) error {
	if len(clips) == 0 {
		return fmt.Errorf("ffmpeg concat: no clips")
	}
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("concat work dir: %w", err)
	}
	manifest := filepath.Join(e.cfg.WorkDir, "concat-"+uuid.NewString()+".txt")
	if err := WriteManifest(manifest, clips); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}
	defer os.Remove(manifest)

	c := ffmpeg.Command{
		Video: []string{"-c", "copy"},
		Output: []string{
			"-r", ffmpeg.FormatFloat(e.cfg.FPS),
			"-avoid_negative_ts", "make_zero",
			"-movflags", "+faststart",
		},
	}
	c.AddInput(manifest, "-f", "concat", "-safe", "0", "-fflags", "+genpts")
	if err := e.runToFile(ctx, ffmpeg.EncodeTimeout, c, outputPath); err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	e.log.Info().Int("clips", len(clips)).Str("output", outputPath).Msg("clips concatenated")
	return nil
}

// WriteManifest writes a concat demuxer file list, one quoted absolute path
// per line, in the given order.
func WriteManifest(path string, clips []string) error {
	var b strings.Builder
	for _, c := range clips {
		abs, err := filepath.Abs(c)
		if err != nil {
			return err
		}
		b.WriteString("file ")
		b.WriteString(QuotePath(abs))
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// QuotePath single-quotes p for the concat demuxer, escaping embedded quotes.
func QuotePath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

// Trim stream-copies the first d of in into out. d <= 0 copies everything.
func (e *Engine) Trim(ctx context.Context, in, out string, d time.Duration) error {
	c := ffmpeg.Command{
		Maps:   []string{"0"},
		Video:  []string{"-c", "copy"},
		Output: []string{"-avoid_negative_ts", "make_zero", "-movflags", "+faststart"},
	}
	c.AddInput(in)
	if d > 0 {
		c.Output = append([]string{"-t", ffmpeg.FormatSeconds(d)}, c.Output...)
	}
	if err := e.runToFile(ctx, ffmpeg.TrimTimeout, c, out); err != nil {
		return fmt.Errorf("ffmpeg trim: %w", err)
	}
	return nil
}

// Finalize copies in to out, cutting it to target when it runs long. It never
// extends: padding is the planner's job.
func (e *Engine) Finalize(ctx context.Context, in, out string, target time.Duration) error {
	if target <= 0 {
		return e.Trim(ctx, in, out, 0)
	}
	got, err := e.prober.Duration(ctx, in)
	if err != nil {
		return err
	}
	if got <= target+trimTolerance {
		return e.Trim(ctx, in, out, 0)
	}
	e.log.Debug().Dur("duration", got).Dur("target", target).Msg("trimming to target")
	return e.Trim(ctx, in, out, target)
}

// runToFile writes to a temp file next to final and renames it into place
// only after the command succeeded.
func (e *Engine) runToFile(ctx context.Context, timeout time.Duration, c ffmpeg.Command, final string) error {
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString()+"-"+filepath.Base(final))
	c.OutputPath = tmp
	if err := ffmpeg.Execute(ctx, e.runner, e.cfg.FFmpegPath, timeout, c); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
