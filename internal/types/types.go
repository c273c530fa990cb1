package types

import (
	"fmt"
	"strings"
	"time"
)

const Unknown = "unknown"

// ClipDescriptor is the probed view of one media file. Probe failures are
// encoded as zero/unknown fields instead of errors.
type ClipDescriptor struct {
	Path string

	Codec          string
	PixelFormat    string
	ColorSpace     string
	ColorRange     string
	ColorPrimaries string

	Width      int
	Height     int
	FPS        float64
	FrameCount int64

	DurationSeconds float64

	HasAudio   bool
	AudioCodec string
}

// Probed reports whether the probe produced usable geometry.
func (d ClipDescriptor) Probed() bool {
	return d.Width > 0 && d.Height > 0
}

type Canvas struct {
	Width  int
	Height int
}

func (c Canvas) String() string { return fmt.Sprintf("%dx%d", c.Width, c.Height) }

// CropMode reconciles a clip's aspect ratio with the canvas.
type CropMode string

const (
	CropFill   CropMode = "fill"
	CropFit    CropMode = "fit"
	CropCenter CropMode = "center"
)

func ParseCropMode(s string) (CropMode, error) {
	switch m := CropMode(strings.ToLower(strings.TrimSpace(s))); m {
	case CropFill, CropFit, CropCenter:
		return m, nil
	case "":
		return CropCenter, nil
	default:
		return "", fmt.Errorf("invalid crop mode %q (expected fill, fit or center)", s)
	}
}

// AudioMode decides whether normalized clips carry an audio track.
type AudioMode string

const (
	AudioKeep  AudioMode = "keep"
	AudioStrip AudioMode = "strip"
)

func ParseAudioMode(s string) (AudioMode, error) {
	switch m := AudioMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AudioKeep, AudioStrip:
		return m, nil
	case "":
		return AudioKeep, nil
	default:
		return "", fmt.Errorf("invalid audio mode %q (expected keep or strip)", s)
	}
}

// Category is the classification bucket of a clip.
type Category int

const (
	Compatible Category = iota
	NeedsResize
	NeedsConvert
)

func (c Category) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case NeedsResize:
		return "needs_resize"
	case NeedsConvert:
		return "needs_convert"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// CacheKey fingerprints one (source, normalization params) pair.
type CacheKey string

// CacheResult tells "not cached" apart from "cache broken".
type CacheResult int

const (
	CacheMiss CacheResult = iota
	CacheHit
	CacheIOError
)

func (r CacheResult) String() string {
	switch r {
	case CacheHit:
		return "hit"
	case CacheIOError:
		return "io_error"
	default:
		return "miss"
	}
}

// PolicyMode selects how much of each clip the planner uses.
type PolicyMode string

const (
	PolicyFull   PolicyMode = "full"
	PolicyFixed  PolicyMode = "fixed"
	PolicyRandom PolicyMode = "random"
)

type DurationPolicy struct {
	Mode  PolicyMode
	Fixed time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (p DurationPolicy) Validate() error {
	switch p.Mode {
	case PolicyFull, "":
		return nil
	case PolicyFixed:
		if p.Fixed <= 0 {
			return fmt.Errorf("fixed clip length must be > 0")
		}
		return nil
	case PolicyRandom:
		if p.Min <= 0 {
			return fmt.Errorf("random clip min must be > 0")
		}
		if p.Max < p.Min {
			return fmt.Errorf("random clip max must be >= min")
		}
		return nil
	default:
		return fmt.Errorf("invalid clip policy %q (expected full, fixed or random)", p.Mode)
	}
}

type PlanEntry struct {
	Path         string
	FullDuration time.Duration
	UseDuration  time.Duration
	NeedsTrim    bool
	Hook         bool
}

// ClipSelectionPlan is the ordered clip list, hook first.
type ClipSelectionPlan struct {
	Entries []PlanEntry
	Target  time.Duration
	Total   time.Duration
	// Short is set when the pool ran out before Target was reached.
	Short bool
}

func (p ClipSelectionPlan) Paths() []string {
	out := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		out = append(out, e.Path)
	}
	return out
}

type NormalizationStats struct {
	Compatible            int
	Resized               int
	Converted             int
	CachedHits            int
	Failed                int
	ProcessingTimeSeconds float64
}

// JobResult is the job boundary: either a complete output video or an error.
type JobResult struct {
	OK         bool
	OutputPath string
	Error      string
}
