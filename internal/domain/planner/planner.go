package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/forPelevin/clipstitch/internal/types"
)

// ErrNoClips is returned when neither a pool nor a hook is available.
var ErrNoClips = errors.New("no clips available")

// trimEpsilon is how much shorter than its full length a clip must be used
// before it is marked for trimming.
const trimEpsilon = 100 * time.Millisecond

// DurationFunc returns the exact duration of a clip or an error.
type DurationFunc func(ctx context.Context, path string) (time.Duration, error)

type Request struct {
	Pool   []string
	Target time.Duration
	Hook   string
	Policy types.DurationPolicy

	// AllowRepeat re-samples the pool until Target is met. Off by default:
	// the plan may then come back Short.
	AllowRepeat bool
}

type Planner struct {
	duration DurationFunc
	rng      *rand.Rand
	log      zerolog.Logger
}

// New returns a planner. A nil seed gives a different order on every run.
func New(duration DurationFunc, seed *int64, log zerolog.Logger) *Planner {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	return &Planner{
		duration: duration,
		rng:      rand.New(rand.NewSource(s)),
		log:      log,
	}
}

func (p *Planner) SelectForDuration(ctx context.Context, req Request) (types.ClipSelectionPlan, error) {
	if req.Target <= 0 {
		return types.ClipSelectionPlan{}, fmt.Errorf("target duration must be > 0")
	}
	if err := req.Policy.Validate(); err != nil {
		return types.ClipSelectionPlan{}, err
	}

	pool := lo.Uniq(lo.Map(req.Pool, func(p string, _ int) string { return filepath.Clean(p) }))
	hook := ""
	if req.Hook != "" {
		hook = filepath.Clean(req.Hook)
		pool = lo.Without(pool, hook)
	}
	if hook == "" && len(pool) == 0 {
		return types.ClipSelectionPlan{}, ErrNoClips
	}

	plan := types.ClipSelectionPlan{Target: req.Target}
	known := make(map[string]time.Duration, len(pool))
	lookup := func(path string) (time.Duration, error) {
		if d, ok := known[path]; ok {
			return d, nil
		}
		d, err := p.duration(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("clip duration %s: %w", path, err)
		}
		known[path] = d
		return d, nil
	}

	if hook != "" {
		d, err := lookup(hook)
		if err != nil {
			return types.ClipSelectionPlan{}, err
		}
		plan.Entries = append(plan.Entries, types.PlanEntry{
			Path:         hook,
			FullDuration: d,
			UseDuration:  d,
			Hook:         true,
		})
		plan.Total = d
	}

	for pass := 0; plan.Total < req.Target; pass++ {
		if len(pool) == 0 || (pass > 0 && !req.AllowRepeat) {
			plan.Short = true
			break
		}
		order := append([]string(nil), pool...)
		p.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		added := time.Duration(0)
		for _, path := range order {
			if err := ctx.Err(); err != nil {
				return types.ClipSelectionPlan{}, err
			}
			full, err := lookup(path)
			if err != nil {
				return types.ClipSelectionPlan{}, err
			}
			use := p.useDuration(full, req.Policy)
			plan.Entries = append(plan.Entries, types.PlanEntry{
				Path:         path,
				FullDuration: full,
				UseDuration:  use,
				NeedsTrim:    full-use > trimEpsilon,
			})
			plan.Total += use
			added += use
			if plan.Total >= req.Target {
				break
			}
		}
		if added <= 0 {
			plan.Short = true
			break
		}
	}

	p.log.Debug().
		Int("clips", len(plan.Entries)).
		Dur("total", plan.Total).
		Dur("target", req.Target).
		Bool("short", plan.Short).
		Msg("clip selection planned")
	return plan, nil
}

func (p *Planner) useDuration(full time.Duration, pol types.DurationPolicy) time.Duration {
	switch pol.Mode {
	case types.PolicyFixed:
		return min(pol.Fixed, full)
	case types.PolicyRandom:
		hi := min(pol.Max, full)
		if hi <= pol.Min {
			return hi
		}
		return pol.Min + time.Duration(p.rng.Int63n(int64(hi-pol.Min)+1))
	default:
		return full
	}
}
