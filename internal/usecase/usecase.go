package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/domain/planner"
	"github.com/forPelevin/clipstitch/internal/normalize"
	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/stitch"
	"github.com/forPelevin/clipstitch/internal/types"
)

// Phase names a step of the job state machine.
type Phase string

const (
	PhaseSelectClips  Phase = "select_clips"
	PhaseClassify     Phase = "classify"
	PhaseNormalize    Phase = "normalize"
	PhaseConcatenate  Phase = "concatenate"
	PhaseMergeAudio   Phase = "merge_audio"
	PhaseTrimToTarget Phase = "trim_to_target"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// SourceExtensions lists the container extensions picked up from a clips dir.
var SourceExtensions = []string{".mp4", ".mov", ".m4v", ".mkv", ".webm", ".avi"}

// PhaseError is a fatal job error tagged with the phase it happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string { return string(e.Phase) + ": " + e.Err.Error() }
func (e *PhaseError) Unwrap() error { return e.Err }

type Planner interface {
	SelectForDuration(ctx context.Context, req planner.Request) (types.ClipSelectionPlan, error)
}

type Normalizer interface {
	NormalizeBatch(ctx context.Context, clips []types.ClipDescriptor, p normalize.Params) ([]string, types.NormalizationStats)
}

type Stitcher interface {
	Concatenate(ctx context.Context, clips []string, outputPath string) error
	Trim(ctx context.Context, in, out string, d time.Duration) error
	Finalize(ctx context.Context, in, out string, target time.Duration) error
	Merge(ctx context.Context, req stitch.MergeRequest) error
}

type Deps struct {
	Prober     ports.Prober
	Planner    Planner
	Normalizer Normalizer
	Stitcher   Stitcher
	Log        zerolog.Logger
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase { return Usecase{d: d} }

type Input struct {
	ClipsDir string
	Hook     string

	Canvas types.Canvas
	Crop   types.CropMode
	Audio  types.AudioMode

	Policy      types.DurationPolicy
	AllowRepeat bool

	// Target is used when VoicePath is empty; otherwise the voice track's
	// duration is the target.
	Target         time.Duration
	VoicePath      string
	OriginalVolume float64
	VoiceVolume    float64

	OutputPath string
	// WorkDir receives every intermediate file of the job.
	WorkDir string
}

// Result is the job outcome plus what the job learned along the way.
type Result struct {
	types.JobResult
	Phase Phase
	Plan  types.ClipSelectionPlan
	Stats types.NormalizationStats
}

// Run drives one job through the state machine. It never returns a partial
// output: either OutputPath exists and OK is set, or Error explains why not.
func (u Usecase) Run(ctx context.Context, in Input) Result {
	j := &job{u: u, in: in, log: u.d.Log}
	defer j.cleanup()

	out, err := j.run(ctx)
	if err != nil {
		j.log.Error().Err(err).Str("phase", string(j.res.Phase)).Msg("job failed")
		j.res.Phase = PhaseFailed
		j.res.JobResult = types.JobResult{OK: false, Error: err.Error()}
		return j.res
	}
	j.res.Phase = PhaseDone
	j.res.JobResult = types.JobResult{OK: true, OutputPath: out}
	j.log.Info().Str("output", out).Msg("job done")
	return j.res
}

type job struct {
	u     Usecase
	in    Input
	log   zerolog.Logger
	res   Result
	temps []string
}

func (j *job) enter(p Phase) {
	j.res.Phase = p
	j.log.Debug().Str("phase", string(p)).Msg("phase")
}

func (j *job) fail(err error) error {
	return &PhaseError{Phase: j.res.Phase, Err: err}
}

func (j *job) temp(prefix string) string {
	p := filepath.Join(j.in.WorkDir, prefix+"-"+uuid.NewString()+".mp4")
	j.temps = append(j.temps, p)
	return p
}

func (j *job) cleanup() {
	for _, p := range j.temps {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.log.Warn().Err(err).Str("path", p).Msg("remove temp file")
		}
	}
}

func (j *job) run(ctx context.Context) (string, error) {
	in := j.in
	d := j.u.d

	j.enter(PhaseSelectClips)
	pool, err := ListClips(in.ClipsDir)
	if err != nil {
		return "", j.fail(err)
	}
	if in.Hook != "" {
		if err := regularFile(in.Hook); err != nil {
			return "", j.fail(fmt.Errorf("hook clip: %w", err))
		}
	}
	if len(pool) == 0 && in.Hook == "" {
		return "", j.fail(planner.ErrNoClips)
	}
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return "", j.fail(fmt.Errorf("work dir: %w", err))
	}

	target := in.Target
	if in.VoicePath != "" {
		target, err = d.Prober.Duration(ctx, in.VoicePath)
		if err != nil {
			return "", j.fail(fmt.Errorf("voice track: %w", err))
		}
	}
	plan, err := d.Planner.SelectForDuration(ctx, planner.Request{
		Pool:        pool,
		Target:      target,
		Hook:        in.Hook,
		Policy:      in.Policy,
		AllowRepeat: in.AllowRepeat,
	})
	if err != nil {
		return "", j.fail(err)
	}
	j.res.Plan = plan
	if plan.Short {
		j.log.Warn().
			Dur("total", plan.Total).
			Dur("target", target).
			Msg("clip pool is shorter than target; output will be short")
	}

	j.enter(PhaseClassify)
	probed := make(map[string]types.ClipDescriptor, len(plan.Entries))
	clips := make([]types.ClipDescriptor, len(plan.Entries))
	for i, e := range plan.Entries {
		desc, ok := probed[e.Path]
		if !ok {
			desc = d.Prober.Probe(ctx, e.Path)
			probed[e.Path] = desc
		}
		clips[i] = desc
	}

	j.enter(PhaseNormalize)
	params := normalize.Params{Canvas: in.Canvas, Crop: in.Crop, Audio: in.Audio}
	paths, stats := d.Normalizer.NormalizeBatch(ctx, clips, params)
	j.res.Stats = stats
	for i, p := range paths {
		if j.scratch(p) {
			j.temps = append(j.temps, p)
		}
		if _, err := os.Stat(p); err != nil {
			j.log.Warn().Err(err).Str("clip", plan.Entries[i].Path).Msg("normalized clip vanished; using original clip")
			paths[i] = plan.Entries[i].Path
		}
	}
	for i, e := range plan.Entries {
		if !e.NeedsTrim || e.Hook {
			continue
		}
		trimmed := j.temp("trim")
		if err := d.Stitcher.Trim(ctx, paths[i], trimmed, e.UseDuration); err != nil {
			j.log.Warn().Err(err).Str("clip", e.Path).Msg("trim failed; using full clip")
			continue
		}
		paths[i] = trimmed
	}

	j.enter(PhaseConcatenate)
	joined := j.temp("concat")
	if err := d.Stitcher.Concatenate(ctx, paths, joined); err != nil {
		return "", j.fail(err)
	}

	if in.VoicePath != "" {
		j.enter(PhaseMergeAudio)
		err := d.Stitcher.Merge(ctx, stitch.MergeRequest{
			Video:          joined,
			Audio:          in.VoicePath,
			Output:         in.OutputPath,
			OriginalVolume: in.OriginalVolume,
			NewVolume:      in.VoiceVolume,
			Target:         target,
		})
		if err != nil {
			return "", j.fail(err)
		}
		return in.OutputPath, nil
	}

	j.enter(PhaseTrimToTarget)
	if err := d.Stitcher.Finalize(ctx, joined, in.OutputPath, target); err != nil {
		return "", j.fail(err)
	}
	return in.OutputPath, nil
}

// scratch reports whether p is a normalizer output in the work dir.
func (j *job) scratch(p string) bool {
	rel, err := filepath.Rel(j.in.WorkDir, p)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// ListClips returns the supported clips in dir, sorted by name. Hidden files
// and subdirectories are skipped.
func ListClips(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("clips dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("clips dir: %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("clips dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !Supported(name) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func Supported(name string) bool {
	return slices.Contains(SourceExtensions, strings.ToLower(filepath.Ext(name)))
}

func regularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}
