package normalize

import (
	"context"
	"time"

	"github.com/forPelevin/clipstitch/internal/domain/classify"
	"github.com/forPelevin/clipstitch/internal/types"
)

// NormalizeBatch returns one path per input clip, in input order. A clip that
// fails to normalize is replaced by its original path; the batch never fails.
func (n *Normalizer) NormalizeBatch(ctx context.Context, clips []types.ClipDescriptor, p Params) ([]string, types.NormalizationStats) {
	start := time.Now()
	var stats types.NormalizationStats
	cats := Categories(clips, p)

	out := make([]string, len(clips))
	// A repeated clip is normalized once per batch.
	done := make(map[string]string, len(clips))
	for i, c := range clips {
		cat := cats[c.Path]
		switch {
		case cat == types.Compatible:
			out[i] = c.Path
			stats.Compatible++
		case done[c.Path] != "":
			out[i] = done[c.Path]
			stats.CachedHits++
		default:
			mode := ModeResize
			if cat == types.NeedsConvert {
				mode = ModeConvert
			}
			path, res, err := n.Normalize(ctx, c, mode, p)
			switch {
			case err != nil:
				n.log.Warn().Err(err).Str("clip", c.Path).Msg("normalization failed; using original clip")
				out[i] = c.Path
				stats.Failed++
			case res == types.CacheHit:
				out[i] = path
				stats.CachedHits++
			case mode == ModeConvert:
				out[i] = path
				stats.Converted++
			default:
				out[i] = path
				stats.Resized++
			}
			if err == nil {
				done[c.Path] = path
			}
		}
		if n.cfg.Progress != nil {
			n.cfg.Progress(i+1, len(clips))
		}
	}

	stats.ProcessingTimeSeconds = time.Since(start).Seconds()
	n.log.Info().
		Int("compatible", stats.Compatible).
		Int("resized", stats.Resized).
		Int("converted", stats.Converted).
		Int("cached_hits", stats.CachedHits).
		Int("failed", stats.Failed).
		Float64("seconds", stats.ProcessingTimeSeconds).
		Msg("normalization finished")
	return out, stats
}

// Categories classifies the batch. A clip that passes the video checks but
// whose audio layout differs from what the audio mode produces is demoted to
// NeedsResize, since stream-copy concatenation needs identical layouts.
func Categories(clips []types.ClipDescriptor, p Params) map[string]types.Category {
	r := classify.Classify(clips, p.Canvas)
	cats := make(map[string]types.Category, len(clips))
	for _, c := range r.Compatible {
		if audioLayoutMatches(c, p.Audio) {
			cats[c.Path] = types.Compatible
		} else {
			cats[c.Path] = types.NeedsResize
		}
	}
	for _, c := range r.NeedsResize {
		cats[c.Path] = types.NeedsResize
	}
	for _, c := range r.NeedsConvert {
		cats[c.Path] = types.NeedsConvert
	}
	return cats
}

func audioLayoutMatches(c types.ClipDescriptor, mode types.AudioMode) bool {
	if mode == types.AudioStrip {
		return !c.HasAudio
	}
	return c.HasAudio && c.AudioCodec == "aac"
}
