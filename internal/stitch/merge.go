package stitch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/clipstitch/internal/ports/adapters/ffmpeg"
)

type MergeRequest struct {
	Video  string
	Audio  string
	Output string

	OriginalVolume float64
	NewVolume      float64

	// Target, when > 0, caps the output duration.
	Target time.Duration
}

// Merge lays the new audio track over the video. When the video has no audio
// or OriginalVolume is 0, the original track is dropped entirely. The output
// never runs longer than the video.
func (e *Engine) Merge(ctx context.Context, req MergeRequest) error {
	if req.OriginalVolume < 0 || req.NewVolume < 0 {
		return fmt.Errorf("merge audio: volumes must be >= 0")
	}
	hasAudio := e.prober.Probe(ctx, req.Video).HasAudio
	c := mergeCommand(req, hasAudio, e.cfg.DropoutTransition)

	mixed := filepath.Join(filepath.Dir(req.Output), ".merge-"+uuid.NewString()+".mp4")
	if err := e.runToFile(ctx, ffmpeg.EncodeTimeout, c, mixed); err != nil {
		return fmt.Errorf("ffmpeg merge audio: %w", err)
	}
	defer os.Remove(mixed)

	if err := e.Finalize(ctx, mixed, req.Output, req.Target); err != nil {
		return fmt.Errorf("merge audio: %w", err)
	}
	e.log.Info().
		Bool("original_audio", hasAudio && req.OriginalVolume > 0).
		Float64("original_volume", req.OriginalVolume).
		Float64("new_volume", req.NewVolume).
		Str("output", req.Output).
		Msg("audio merged")
	return nil
}

func mergeCommand(req MergeRequest, videoHasAudio bool, dropout float64) ffmpeg.Command {
	// -shortest: a voice track longer than the video must not extend it,
	// since the final cut measures the video stream only.
	c := ffmpeg.Command{
		Video:  []string{"-c:v", "copy"},
		Audio:  []string{"-c:a", "aac", "-b:a", "192k", "-ar", "44100", "-ac", "2"},
		Output: []string{"-shortest", "-movflags", "+faststart"},
	}
	c.AddInput(req.Video).AddInput(req.Audio)

	if !videoHasAudio || req.OriginalVolume == 0 {
		c.Maps = []string{"0:v:0", "1:a:0"}
		c.AudioFilter = "volume=" + ffmpeg.FormatFloat(req.NewVolume)
		return c
	}
	c.FilterComplex = fmt.Sprintf(
		"[0:a]volume=%s[a0];[1:a]volume=%s[a1];[a0][a1]amix=inputs=2:duration=longest:dropout_transition=%s:normalize=0[aout]",
		ffmpeg.FormatFloat(req.OriginalVolume),
		ffmpeg.FormatFloat(req.NewVolume),
		ffmpeg.FormatFloat(dropout),
	)
	c.Maps = []string{"0:v:0", "[aout]"}
	return c
}
