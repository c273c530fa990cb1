package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/types"
)

// DefaultFPS is assumed when a probe cannot tell the frame rate.
const DefaultFPS = 30.0

// Prober reads metadata with ffprobe.
type Prober struct {
	runner  ports.Runner
	ffprobe string
	log     zerolog.Logger
}

func NewProber(r ports.Runner, ffprobePath string, log zerolog.Logger) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{runner: r, ffprobe: ffprobePath, log: log}
}

type probeStream struct {
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	PixFmt         string `json:"pix_fmt"`
	ColorSpace     string `json:"color_space"`
	ColorRange     string `json:"color_range"`
	ColorPrimaries string `json:"color_primaries"`
	RFrameRate     string `json:"r_frame_rate"`
	AvgFrameRate   string `json:"avg_frame_rate"`
	NbFrames       string `json:"nb_frames"`
	Duration       string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeInfo is the parsed ffprobe answer before any fallbacks are applied.
type probeInfo struct {
	desc           types.ClipDescriptor
	hasVideo       bool
	formatDuration float64
}

func (p *Prober) Probe(ctx context.Context, path string) types.ClipDescriptor {
	info, err := p.probe(ctx, path)
	if err != nil {
		p.log.Debug().Str("path", path).Err(err).Msg("probe failed; using conservative defaults")
		return unknownDescriptor(path)
	}
	d := info.desc
	if d.FPS <= 0 {
		d.FPS = DefaultFPS
	}
	return d
}

// Duration uses container length for audio-only files and frames/fps for video.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	info, err := p.probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %s: %w", path, err)
	}
	if !info.hasVideo {
		if info.formatDuration <= 0 {
			return 0, fmt.Errorf("ffprobe duration %s: no container duration", path)
		}
		return seconds(info.formatDuration), nil
	}
	d := info.desc
	if d.FPS <= 0 {
		return 0, fmt.Errorf("ffprobe duration %s: invalid frame rate", path)
	}
	if d.FrameCount <= 0 {
		return 0, fmt.Errorf("ffprobe duration %s: unknown frame count", path)
	}
	return seconds(float64(d.FrameCount) / d.FPS), nil
}

func (p *Prober) probe(ctx context.Context, path string) (probeInfo, error) {
	res, err := p.runner.Run(ctx, ProbeTimeout, p.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return probeInfo{}, err
	}
	return parseProbe(path, res.Stdout)
}

func parseProbe(path string, b []byte) (probeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return probeInfo{}, fmt.Errorf("parse ffprobe json: %w", err)
	}

	info := probeInfo{desc: unknownDescriptor(path)}
	info.desc.FPS = 0
	info.formatDuration = parseFloat(out.Format.Duration)

	var video, audio *probeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}
	if video == nil && audio == nil {
		return probeInfo{}, errors.New("no audio or video streams")
	}

	d := &info.desc
	if audio != nil {
		d.HasAudio = true
		d.AudioCodec = orUnknown(audio.CodecName)
	}
	if video == nil {
		d.DurationSeconds = info.formatDuration
		return info, nil
	}

	info.hasVideo = true
	d.Codec = orUnknown(video.CodecName)
	d.PixelFormat = orUnknown(video.PixFmt)
	d.ColorSpace = orUnknown(video.ColorSpace)
	d.ColorRange = orUnknown(video.ColorRange)
	d.ColorPrimaries = orUnknown(video.ColorPrimaries)
	d.Width = video.Width
	d.Height = video.Height

	d.FPS = parseRate(video.AvgFrameRate)
	if d.FPS <= 0 {
		d.FPS = parseRate(video.RFrameRate)
	}

	streamDuration := parseFloat(video.Duration)
	if streamDuration <= 0 {
		streamDuration = info.formatDuration
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(video.NbFrames), 10, 64); err == nil && n > 0 {
		d.FrameCount = n
	} else if d.FPS > 0 && streamDuration > 0 {
		d.FrameCount = int64(math.Round(streamDuration * d.FPS))
	}

	if d.FPS > 0 && d.FrameCount > 0 {
		d.DurationSeconds = float64(d.FrameCount) / d.FPS
	} else {
		d.DurationSeconds = streamDuration
	}
	return info, nil
}

func unknownDescriptor(path string) types.ClipDescriptor {
	return types.ClipDescriptor{
		Path:           path,
		Codec:          types.Unknown,
		PixelFormat:    types.Unknown,
		ColorSpace:     types.Unknown,
		ColorRange:     types.Unknown,
		ColorPrimaries: types.Unknown,
		FPS:            DefaultFPS,
		AudioCodec:     "none",
	}
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, err1 := strconv.ParseFloat(num, 64)
	m, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || m == 0 {
		return 0
	}
	return n / m
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.Unknown
	}
	return s
}

func seconds(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
