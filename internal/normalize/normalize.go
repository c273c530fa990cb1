package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/cache"
	"github.com/forPelevin/clipstitch/internal/domain/classify"
	"github.com/forPelevin/clipstitch/internal/encoder"
	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipstitch/internal/types"
)

const (
	DefaultFPS = 30.0
	// DefaultMinFrames rejects the single-frame output some malformed inputs
	// produce while ffmpeg still exits 0.
	DefaultMinFrames = 2
)

const (
	audioSampleRate   = "44100"
	audioBitrate      = "128k"
	silentAudioSource = "anullsrc=channel_layout=stereo:sample_rate=" + audioSampleRate
)

// ErrDegenerate marks an output with too few frames to be real video.
var ErrDegenerate = errors.New("degenerate output")

type Mode int

const (
	// ModeResize fixes geometry, frame rate and timestamps.
	ModeResize Mode = iota
	// ModeConvert also fixes pixel format and colour tagging.
	ModeConvert
)

func (m Mode) String() string {
	if m == ModeConvert {
		return "convert"
	}
	return "resize"
}

type Params struct {
	Canvas types.Canvas
	Crop   types.CropMode
	Audio  types.AudioMode
}

// EncoderSource yields the encoder to use; *encoder.Selector implements it.
type EncoderSource interface {
	Detect(ctx context.Context) encoder.Encoder
}

type Config struct {
	FFmpegPath string
	// WorkDir receives freshly encoded clips before they are cached.
	WorkDir   string
	FPS       float64
	Tier      encoder.Tier
	MinFrames int64

	// Progress, if set, is called after every clip of a batch.
	Progress func(done, total int)
}

type Normalizer struct {
	runner   ports.Runner
	prober   ports.Prober
	cache    *cache.Cache
	encoders EncoderSource
	cfg      Config
	log      zerolog.Logger
}

// New builds a normalizer. c may be nil to disable caching.
func New(r ports.Runner, p ports.Prober, c *cache.Cache, enc EncoderSource, cfg Config, log zerolog.Logger) *Normalizer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.MinFrames <= 0 {
		cfg.MinFrames = DefaultMinFrames
	}
	if cfg.Tier == "" {
		cfg.Tier = encoder.TierBalanced
	}
	return &Normalizer{runner: r, prober: p, cache: c, encoders: enc, cfg: cfg, log: log}
}

// Normalize produces a canvas-fitted, CFR, timestamp-reset copy of clip,
// serving it from the cache when possible. The returned file always lives in
// WorkDir and belongs to the caller, whether it was encoded or checked out of
// the cache.
func (n *Normalizer) Normalize(ctx context.Context, clip types.ClipDescriptor, mode Mode, p Params) (string, types.CacheResult, error) {
	log := n.log.With().Str("clip", clip.Path).Str("mode", mode.String()).Logger()

	if err := os.MkdirAll(n.cfg.WorkDir, 0o755); err != nil {
		return "", types.CacheMiss, fmt.Errorf("normalize work dir: %w", err)
	}
	out := filepath.Join(n.cfg.WorkDir, "norm-"+uuid.NewString()+".mp4")

	var key types.CacheKey
	cacheRes := types.CacheMiss
	if n.cache != nil {
		k, err := cache.KeyFor(clip.Path, n.variant(p))
		if err != nil {
			log.Warn().Err(err).Msg("cache key unavailable; normalizing uncached")
			cacheRes = types.CacheIOError
		} else {
			key = k
			res := n.cache.Checkout(key, out)
			if res == types.CacheHit {
				log.Debug().Str("key", string(key)).Msg("cache hit")
				return out, res, nil
			}
			cacheRes = res
		}
	}

	enc := n.encoders.Detect(ctx)
	cmd := n.command(clip, mode, p, enc, out)

	start := time.Now()
	if err := ffmpeg.Execute(ctx, n.runner, n.cfg.FFmpegPath, ffmpeg.EncodeTimeout, cmd); err != nil {
		_ = os.Remove(out)
		return "", cacheRes, fmt.Errorf("ffmpeg normalize %s: %w", clip.Path, err)
	}
	if mode == ModeConvert {
		if frames := n.prober.Probe(ctx, out).FrameCount; frames < n.cfg.MinFrames {
			_ = os.Remove(out)
			return "", cacheRes, fmt.Errorf("normalize %s: %w (%d frames)", clip.Path, ErrDegenerate, frames)
		}
	}
	log.Debug().Str("encoder", string(enc)).Dur("took", time.Since(start)).Msg("clip normalized")

	if key == "" {
		return out, cacheRes, nil
	}
	if _, err := n.cache.Store(key, out); err != nil {
		return out, types.CacheIOError, nil
	}
	return out, cacheRes, nil
}

// variant is everything about this normalizer and p that shapes the output.
func (n *Normalizer) variant(p Params) cache.Variant {
	return cache.Variant{
		Canvas: p.Canvas,
		Crop:   p.Crop,
		Audio:  p.Audio,
		FPS:    n.cfg.FPS,
		Tier:   string(n.cfg.Tier),
	}
}

func (n *Normalizer) command(clip types.ClipDescriptor, mode Mode, p Params, enc encoder.Encoder, out string) ffmpeg.Command {
	fps := ffmpeg.FormatFloat(n.cfg.FPS)
	c := ffmpeg.Command{OutputPath: out}
	if mode == ModeConvert {
		c.AddInput(clip.Path, "-fflags", "+genpts")
	} else {
		c.AddInput(clip.Path)
	}

	c.VideoFilter = VideoFilter(p.Canvas, p.Crop, n.cfg.FPS, mode == ModeConvert)
	c.Video = append(encoder.Params(enc, n.cfg.Tier),
		"-pix_fmt", classify.TargetPixelFormat,
		"-r", fps,
		"-fps_mode", "cfr",
		"-video_track_timescale", "90000",
	)
	if mode == ModeConvert {
		c.Video = append(c.Video,
			"-colorspace", "bt709",
			"-color_primaries", "bt709",
			"-color_trc", "bt709",
			"-color_range", "tv",
		)
	}

	switch {
	case p.Audio == types.AudioStrip:
		c.Maps = []string{"0:v:0"}
		c.Audio = []string{"-an"}
	case !clip.HasAudio:
		// Every kept clip carries exactly one audio stream so the concat
		// demuxer sees a uniform layout.
		c.AddInput(silentAudioSource, "-f", "lavfi")
		c.Maps = []string{"0:v:0", "1:a:0"}
		c.Audio = audioArgs()
		c.Output = append(c.Output, "-shortest")
	default:
		c.Maps = []string{"0:v:0", "0:a:0"}
		c.AudioFilter = "aresample=async=1:first_pts=0,asetpts=PTS-STARTPTS"
		c.Audio = audioArgs()
	}
	c.Output = append(c.Output, "-avoid_negative_ts", "make_zero", "-movflags", "+faststart")
	return c
}

func audioArgs() []string {
	return []string{"-c:a", "aac", "-b:a", audioBitrate, "-ar", audioSampleRate, "-ac", "2"}
}

// VideoFilter builds the -vf chain: canvas fit, square pixels, fixed rate and
// a zero-based timestamp reset.
func VideoFilter(canvas types.Canvas, crop types.CropMode, fps float64, fixRange bool) string {
	w, h := canvas.Width, canvas.Height
	rng := ""
	if fixRange {
		rng = ":out_range=tv"
	}
	var geom string
	switch crop {
	case types.CropFit:
		geom = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease%s,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", w, h, rng, w, h)
	default:
		geom = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase%s,crop=%d:%d", w, h, rng, w, h)
	}
	return fmt.Sprintf("%s,setsar=1,fps=%s,format=%s,setpts=PTS-STARTPTS",
		geom, ffmpeg.FormatFloat(fps), classify.TargetPixelFormat)
}
