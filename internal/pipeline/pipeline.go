package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/forPelevin/clipstitch/internal/cache"
	"github.com/forPelevin/clipstitch/internal/domain/planner"
	"github.com/forPelevin/clipstitch/internal/encoder"
	"github.com/forPelevin/clipstitch/internal/normalize"
	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipstitch/internal/stitch"
	"github.com/forPelevin/clipstitch/internal/types"
	"github.com/forPelevin/clipstitch/internal/usecase"
)

// Config describes one job plus the tool settings it runs with. Fields
// tagged for YAML can come from a job file.
type Config struct {
	ClipsDir string `yaml:"clips_dir"`
	Hook     string `yaml:"hook"`

	Width  int             `yaml:"width"`
	Height int             `yaml:"height"`
	Crop   types.CropMode  `yaml:"crop"`
	Audio  types.AudioMode `yaml:"audio"`
	FPS    float64         `yaml:"fps"`

	ClipPolicy  types.PolicyMode `yaml:"clip_policy"`
	FixedClip   time.Duration    `yaml:"fixed_clip"`
	MinClip     time.Duration    `yaml:"min_clip"`
	MaxClip     time.Duration    `yaml:"max_clip"`
	AllowRepeat bool             `yaml:"allow_repeat"`
	Seed        *int64           `yaml:"seed"`

	Target         time.Duration `yaml:"target"`
	Voice          string        `yaml:"voice"`
	OriginalVolume float64       `yaml:"original_volume"`
	VoiceVolume    float64       `yaml:"voice_volume"`

	// Output is the final video path. If empty, a unique name is created
	// under OutDir.
	Output  string       `yaml:"output"`
	OutDir  string       `yaml:"out_dir"`
	Quality encoder.Tier `yaml:"quality"`

	CacheDir      string `yaml:"cache_dir"`
	CacheMaxBytes int64  `yaml:"-"`
	NoCache       bool   `yaml:"no_cache"`
	// WorkDir is the root for per-job scratch directories.
	WorkDir string `yaml:"work_dir"`

	FFmpegPath  string `yaml:"-"`
	FFprobePath string `yaml:"-"`

	Log      zerolog.Logger        `yaml:"-"`
	Progress func(done, total int) `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Width:          1080,
		Height:         1920,
		Crop:           types.CropCenter,
		Audio:          types.AudioKeep,
		FPS:            normalize.DefaultFPS,
		ClipPolicy:     types.PolicyFull,
		OriginalVolume: 0.3,
		VoiceVolume:    1.0,
		OutDir:         "out",
		Quality:        encoder.TierBalanced,
		CacheDir:       filepath.Join(".cache", "normalized"),
		CacheMaxBytes:  cache.DefaultMaxBytes,
		WorkDir:        filepath.Join(os.TempDir(), "clipstitch"),
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		Log:            zerolog.Nop(),
	}
}

// LoadJobFile reads a YAML job file over base. Keys missing from the file
// keep base's values.
func LoadJobFile(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read job file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Policy() types.DurationPolicy {
	return types.DurationPolicy{Mode: c.ClipPolicy, Fixed: c.FixedClip, Min: c.MinClip, Max: c.MaxClip}
}

func (c Config) Validate() error {
	if c.ClipsDir == "" {
		return errors.New("clips dir is empty")
	}
	info, err := os.Stat(c.ClipsDir)
	if err != nil {
		return fmt.Errorf("stat clips dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("clips dir %s is not a directory", c.ClipsDir)
	}
	if c.Hook != "" {
		if _, err := os.Stat(c.Hook); err != nil {
			return fmt.Errorf("stat hook: %w", err)
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("canvas must be > 0, got %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if _, err := types.ParseCropMode(string(c.Crop)); err != nil {
		return err
	}
	if _, err := types.ParseAudioMode(string(c.Audio)); err != nil {
		return err
	}
	if _, err := encoder.ParseTier(string(c.Quality)); err != nil {
		return err
	}
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	if c.OriginalVolume < 0 || c.VoiceVolume < 0 {
		return fmt.Errorf("volumes must be >= 0")
	}
	switch {
	case c.Voice == "" && c.Target <= 0:
		return errors.New("either a target duration or a voice track is required")
	case c.Voice != "" && c.Target > 0:
		return errors.New("target duration and voice track are mutually exclusive")
	case c.Voice != "":
		if _, err := os.Stat(c.Voice); err != nil {
			return fmt.Errorf("stat voice: %w", err)
		}
	}
	return nil
}

// Run wires the adapters for one job and executes it.
func Run(ctx context.Context, cfg Config) usecase.Result {
	if err := cfg.Validate(); err != nil {
		return usecase.Result{JobResult: types.JobResult{Error: err.Error()}, Phase: usecase.PhaseFailed}
	}
	crop, _ := types.ParseCropMode(string(cfg.Crop))
	audio, _ := types.ParseAudioMode(string(cfg.Audio))
	tier, _ := encoder.ParseTier(string(cfg.Quality))

	jobID := uuid.NewString()
	log := cfg.Log.With().Str("job", jobID[:8]).Logger()

	workDir := filepath.Join(cfg.WorkDir, "jobs", jobID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("remove work dir")
		}
	}()

	output := cfg.Output
	if output == "" {
		output = buildOutputPath(cfg.OutDir, cfg.ClipsDir, time.Now().UTC())
	}

	// adapters
	run := ffmpeg.NewExec(log)
	prober := ffmpeg.NewProber(run, cfg.FFprobePath, log)
	enc := encoder.New(run, cfg.FFmpegPath, log)

	var c *cache.Cache
	if !cfg.NoCache {
		c = cache.New(cfg.CacheDir, cfg.CacheMaxBytes, log)
	}
	norm := normalize.New(run, prober, c, enc, normalize.Config{
		FFmpegPath: cfg.FFmpegPath,
		WorkDir:    workDir,
		FPS:        cfg.FPS,
		Tier:       tier,
		Progress:   cfg.Progress,
	}, log)
	st := stitch.New(run, prober, stitch.Config{
		FFmpegPath: cfg.FFmpegPath,
		WorkDir:    workDir,
		FPS:        cfg.FPS,
	}, log)

	uc := usecase.New(usecase.Deps{
		Prober:     prober,
		Planner:    planner.New(prober.Duration, cfg.Seed, log),
		Normalizer: norm,
		Stitcher:   st,
		Log:        log,
	})

	log.Info().
		Str("clips_dir", cfg.ClipsDir).
		Str("canvas", types.Canvas{Width: cfg.Width, Height: cfg.Height}.String()).
		Str("output", output).
		Msg("job started")
	return uc.Run(ctx, usecase.Input{
		ClipsDir:       cfg.ClipsDir,
		Hook:           cfg.Hook,
		Canvas:         types.Canvas{Width: cfg.Width, Height: cfg.Height},
		Crop:           crop,
		Audio:          audio,
		Policy:         cfg.Policy(),
		AllowRepeat:    cfg.AllowRepeat,
		Target:         cfg.Target,
		VoicePath:      cfg.Voice,
		OriginalVolume: cfg.OriginalVolume,
		VoiceVolume:    cfg.VoiceVolume,
		OutputPath:     output,
		WorkDir:        workDir,
	})
}

// buildOutputPath names the output after the clips dir, a timestamp and a
// short per-run suffix so repeated jobs never collide.
func buildOutputPath(outRoot, clipsDir string, now time.Time) string {
	name := normalizePathSegment(filepath.Base(filepath.Clean(clipsDir)))
	if name == "" {
		name = "clips"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", clipsDir, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s.mp4", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.Runner = (*ffmpeg.Exec)(nil)
var _ ports.Prober = (*ffmpeg.Prober)(nil)
var _ usecase.Normalizer = (*normalize.Normalizer)(nil)
var _ usecase.Stitcher = (*stitch.Engine)(nil)
var _ usecase.Planner = (*planner.Planner)(nil)
var _ normalize.EncoderSource = (*encoder.Selector)(nil)
