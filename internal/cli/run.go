package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipstitch/internal/encoder"
	"github.com/forPelevin/clipstitch/internal/pipeline"
	"github.com/forPelevin/clipstitch/internal/types"
)

func newRunCmd() *cobra.Command {
	def := pipeline.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run [clips-dir]",
		Short: "Build one video from the clips in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args)
		},
	}

	f := cmd.Flags()
	f.String("job", "", "YAML job file; explicit flags override its values")
	f.String("hook", "", "Clip that always opens the video")
	f.Duration("target", 0, "Target duration (e.g. 45s); mutually exclusive with --voice")
	f.String("voice", "", "Voice track; its duration becomes the target")
	f.Float64("original-volume", def.OriginalVolume, "Volume of the clips' own audio under the voice (0 drops it)")
	f.Float64("voice-volume", def.VoiceVolume, "Volume of the voice track")

	f.Int("width", def.Width, "Canvas width")
	f.Int("height", def.Height, "Canvas height")
	f.String("crop", string(def.Crop), "Aspect handling: fill, fit or center")
	f.String("audio", string(def.Audio), "Clip audio: keep or strip")
	f.Float64("fps", def.FPS, "Output frame rate")
	f.String("quality", string(def.Quality), "Encoder quality tier: fast, balanced or quality")

	f.String("policy", string(def.ClipPolicy), "Per-clip length: full, fixed or random")
	f.Duration("fixed", 0, "Clip length for --policy fixed")
	f.Duration("min", 0, "Shortest clip length for --policy random")
	f.Duration("max", 0, "Longest clip length for --policy random")
	f.Bool("allow-repeat", false, "Reuse clips when the pool is shorter than the target")
	f.Int64("seed", 0, "Seed for clip selection (random when unset)")

	f.String("out", "", "Output file (default: a unique name under --out-dir)")
	f.String("out-dir", def.OutDir, "Directory for generated output names")
	f.Bool("no-cache", false, "Do not read or write the normalization cache")
	f.Bool("no-progress", false, "Hide the normalization progress bar")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := newLogger(cmd.ErrOrStderr())
	cfg.Log = log
	if quiet, _ := cmd.Flags().GetBool("no-progress"); !quiet && !jsonLogs() {
		cfg.Progress = progressReporter(cmd.ErrOrStderr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Hour)
	defer cancel()

	res := pipeline.Run(ctx, cfg)
	if !res.OK {
		return errors.New(res.Error)
	}
	s := res.Stats
	log.Info().
		Int("clips", len(res.Plan.Entries)).
		Dur("planned", res.Plan.Total).
		Int("normalized", s.Resized+s.Converted).
		Int("cached", s.CachedHits).
		Int("failed", s.Failed).
		Msg("video ready")
	fmt.Fprintln(cmd.OutOrStdout(), res.OutputPath)
	return nil
}

// buildConfig layers defaults, environment, the job file and explicitly set
// flags, in that order.
func buildConfig(cmd *cobra.Command, args []string) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	if job, _ := f.GetString("job"); job != "" {
		loaded, err := pipeline.LoadJobFile(job, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if len(args) == 1 {
		cfg.ClipsDir = args[0]
	}

	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("hook", func() { cfg.Hook, _ = f.GetString("hook") })
	set("target", func() { cfg.Target, _ = f.GetDuration("target") })
	set("voice", func() { cfg.Voice, _ = f.GetString("voice") })
	set("original-volume", func() { cfg.OriginalVolume, _ = f.GetFloat64("original-volume") })
	set("voice-volume", func() { cfg.VoiceVolume, _ = f.GetFloat64("voice-volume") })
	set("width", func() { cfg.Width, _ = f.GetInt("width") })
	set("height", func() { cfg.Height, _ = f.GetInt("height") })
	set("crop", func() {
		v, _ := f.GetString("crop")
		cfg.Crop = types.CropMode(v)
	})
	set("audio", func() {
		v, _ := f.GetString("audio")
		cfg.Audio = types.AudioMode(v)
	})
	set("fps", func() { cfg.FPS, _ = f.GetFloat64("fps") })
	set("quality", func() {
		v, _ := f.GetString("quality")
		cfg.Quality = encoder.Tier(v)
	})
	set("policy", func() {
		v, _ := f.GetString("policy")
		cfg.ClipPolicy = types.PolicyMode(v)
	})
	set("fixed", func() { cfg.FixedClip, _ = f.GetDuration("fixed") })
	set("min", func() { cfg.MinClip, _ = f.GetDuration("min") })
	set("max", func() { cfg.MaxClip, _ = f.GetDuration("max") })
	set("allow-repeat", func() { cfg.AllowRepeat, _ = f.GetBool("allow-repeat") })
	set("seed", func() {
		v, _ := f.GetInt64("seed")
		cfg.Seed = &v
	})
	set("out", func() { cfg.Output, _ = f.GetString("out") })
	set("out-dir", func() { cfg.OutDir, _ = f.GetString("out-dir") })
	set("no-cache", func() { cfg.NoCache, _ = f.GetBool("no-cache") })

	for _, p := range []*string{&cfg.ClipsDir, &cfg.Hook, &cfg.Voice} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return cfg, err
		}
		*p = abs
	}
	return cfg, nil
}

// progressReporter draws a bar sized on the first callback, when the batch
// length is known.
func progressReporter(w io.Writer) func(done, total int) {
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetDescription("Normalizing"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}
}
