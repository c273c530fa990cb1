package classify

import (
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/forPelevin/clipstitch/internal/types"
)

const (
	TargetCodec       = "h264"
	TargetPixelFormat = "yuv420p"
)

var (
	// modernCodecs only need re-timing/re-scaling, not a colour fix.
	modernCodecs = []string{"h264", "hevc"}

	standardRates = []float64{23.976, 24, 25, 29.97, 30, 50, 59.94, 60}

	legacyColor = []string{
		types.Unknown, "unspecified", "reserved",
		"bt470bg", "bt470m", "smpte170m", "smpte240m", "fcc",
	}
)

const rateTolerance = 0.01

// Result partitions a batch. Every input lands in exactly one slice and the
// input order is kept inside each slice.
type Result struct {
	Compatible   []types.ClipDescriptor
	NeedsResize  []types.ClipDescriptor
	NeedsConvert []types.ClipDescriptor
}

func (r Result) Len() int {
	return len(r.Compatible) + len(r.NeedsResize) + len(r.NeedsConvert)
}

func Classify(clips []types.ClipDescriptor, canvas types.Canvas) Result {
	var r Result
	for _, c := range clips {
		switch Categorize(c, canvas) {
		case types.Compatible:
			r.Compatible = append(r.Compatible, c)
		case types.NeedsResize:
			r.NeedsResize = append(r.NeedsResize, c)
		default:
			r.NeedsConvert = append(r.NeedsConvert, c)
		}
	}
	return r
}

// Categorize applies the rules in order; the colour check runs first because
// full-range or untagged sources break overlay rendering even when geometry
// matches.
func Categorize(c types.ClipDescriptor, canvas types.Canvas) types.Category {
	if !c.Probed() {
		return types.NeedsConvert
	}
	if badColor(c) {
		return types.NeedsConvert
	}
	codec := strings.ToLower(c.Codec)
	if codec == TargetCodec &&
		c.Width == canvas.Width && c.Height == canvas.Height &&
		StandardRate(c.FPS) &&
		c.PixelFormat == TargetPixelFormat {
		return types.Compatible
	}
	if lo.Contains(modernCodecs, codec) {
		return types.NeedsResize
	}
	return types.NeedsConvert
}

func badColor(c types.ClipDescriptor) bool {
	if strings.HasPrefix(c.PixelFormat, "yuvj") {
		return true
	}
	return lo.Contains(legacyColor, strings.ToLower(c.ColorSpace)) ||
		lo.Contains(legacyColor, strings.ToLower(c.ColorPrimaries))
}

func StandardRate(fps float64) bool {
	return lo.ContainsBy(standardRates, func(r float64) bool {
		return math.Abs(fps-r) <= rateTolerance
	})
}
