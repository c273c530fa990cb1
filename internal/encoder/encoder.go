package encoder

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/ports/adapters/ffmpeg"
)

type Encoder string

const (
	VideoToolbox Encoder = "h264_videotoolbox"
	NVENC        Encoder = "h264_nvenc"
	QSV          Encoder = "h264_qsv"
	Software     Encoder = "libx264"
)

type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierQuality  Tier = "quality"
)

var Tiers = []Tier{TierFast, TierBalanced, TierQuality}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFast, TierBalanced, TierQuality:
		return t, nil
	case "":
		return TierBalanced, nil
	default:
		return "", fmt.Errorf("invalid quality tier %q (expected fast, balanced or quality)", s)
	}
}

// Selector picks the best working H.264 encoder once per instance.
type Selector struct {
	runner ports.Runner
	ffmpeg string
	goos   string
	log    zerolog.Logger

	once sync.Once
	enc  Encoder
}

func New(r ports.Runner, ffmpegPath string, log zerolog.Logger) *Selector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Selector{runner: r, ffmpeg: ffmpegPath, goos: runtime.GOOS, log: log}
}

// Candidates lists hardware encoders in preference order for goos. The
// software encoder is always the implicit last resort.
func Candidates(goos string) []Encoder {
	if goos == "darwin" {
		return []Encoder{VideoToolbox, NVENC}
	}
	return []Encoder{NVENC, QSV}
}

func (s *Selector) Detect(ctx context.Context) Encoder {
	s.once.Do(func() {
		s.enc = s.detect(ctx)
		s.log.Info().Str("encoder", string(s.enc)).Msg("video encoder selected")
	})
	return s.enc
}

func (s *Selector) detect(ctx context.Context) Encoder {
	res, err := s.runner.Run(ctx, ffmpeg.ProbeTimeout, s.ffmpeg, "-hide_banner", "-encoders")
	if err != nil {
		s.log.Warn().Err(err).Msg("listing encoders failed; using software encoder")
		return Software
	}
	for _, enc := range Candidates(s.goos) {
		if !bytes.Contains(res.Stdout, []byte(string(enc))) {
			continue
		}
		// Listed encoders can still fail at runtime (no device, no driver).
		if s.trial(ctx, enc) {
			return enc
		}
		s.log.Debug().Str("encoder", string(enc)).Msg("encoder listed but trial encode failed")
	}
	return Software
}

func (s *Selector) trial(ctx context.Context, enc Encoder) bool {
	_, err := s.runner.Run(ctx, ffmpeg.ProbeTimeout, s.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
		"-frames:v", "1",
		"-c:v", string(enc),
		"-f", "null", "-",
	)
	return err == nil
}

// Params returns the "-c:v ..." argument list for enc at tier.
func Params(enc Encoder, tier Tier) []string {
	i := tierIndex(tier)
	args := []string{"-c:v", string(enc)}
	switch enc {
	case NVENC:
		presets := [...]string{"p1", "p4", "p7"}
		cq := [...]string{"26", "23", "19"}
		return append(args, "-preset", presets[i], "-rc", "vbr", "-cq", cq[i], "-b:v", "0")
	case QSV:
		presets := [...]string{"veryfast", "medium", "slow"}
		q := [...]string{"26", "23", "20"}
		return append(args, "-preset", presets[i], "-global_quality", q[i])
	case VideoToolbox:
		rates := [...]string{"6M", "8M", "12M"}
		return append(args, "-b:v", rates[i], "-allow_sw", "1")
	default:
		presets := [...]string{"veryfast", "fast", "slow"}
		crf := [...]string{"23", "20", "18"}
		return append([]string{"-c:v", string(Software)}, "-preset", presets[i], "-crf", crf[i])
	}
}

func tierIndex(t Tier) int {
	switch t {
	case TierFast:
		return 0
	case TierQuality:
		return 2
	default:
		return 1
	}
}
