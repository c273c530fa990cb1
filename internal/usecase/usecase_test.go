package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipstitch/internal/domain/planner"
	"github.com/forPelevin/clipstitch/internal/encoder"
	"github.com/forPelevin/clipstitch/internal/normalize"
	"github.com/forPelevin/clipstitch/internal/ports"
	"github.com/forPelevin/clipstitch/internal/stitch"
	"github.com/forPelevin/clipstitch/internal/types"
)

var canvas = types.Canvas{Width: 1080, Height: 1920}

func TestRun_CompatibleClipsSkipNormalization(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		env.addClip(name, 5*time.Second, nil)
	}
	env.prober.durations[env.voice] = 12 * time.Second

	in := env.input()
	in.VoicePath = env.voice
	res := env.usecase().Run(context.Background(), in)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.OutputPath != in.OutputPath || res.Phase != PhaseDone {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(env.runner.calls) != 0 {
		t.Fatalf("compatible clips must not be re-encoded, got %d encodes", len(env.runner.calls))
	}
	if res.Stats.Compatible != 3 {
		t.Fatalf("expected 3 compatible clips, got %+v", res.Stats)
	}
	if !slices.Equal(env.stitcher.concat, res.Plan.Paths()) {
		t.Fatalf("concat order %v differs from plan %v", env.stitcher.concat, res.Plan.Paths())
	}
	if len(env.stitcher.merges) != 1 || env.stitcher.merges[0].Target != 12*time.Second {
		t.Fatalf("expected one merge capped at the voice duration, got %+v", env.stitcher.merges)
	}
	if len(env.stitcher.finalized) != 0 {
		t.Fatalf("merge already reconciles duration")
	}
}

func TestRun_EmptyDirFailsBeforeProbing(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	res := env.usecase().Run(context.Background(), env.input())

	if res.OK || res.Phase != PhaseFailed {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !strings.Contains(res.Error, planner.ErrNoClips.Error()) {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if env.prober.calls != 0 {
		t.Fatalf("expected no probes, got %d", env.prober.calls)
	}
}

func TestRun_MissingInputsFailFast(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mod  func(*Input)
		want string
	}{
		{name: "missing clips dir", mod: func(in *Input) { in.ClipsDir = filepath.Join(in.ClipsDir, "nope") }, want: "select_clips: clips dir"},
		{name: "missing hook", mod: func(in *Input) { in.Hook = filepath.Join(in.ClipsDir, "hook.mp4") }, want: "select_clips: hook clip"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newEnv(t)
			env.addClip("a.mp4", 5*time.Second, nil)
			in := env.input()
			tc.mod(&in)

			res := env.usecase().Run(context.Background(), in)
			if res.OK || !strings.HasPrefix(res.Error, tc.want) {
				t.Fatalf("expected %q, got %+v", tc.want, res)
			}
			if len(env.stitcher.concat) != 0 {
				t.Fatalf("nothing may be concatenated")
			}
		})
	}
}

func TestRun_DegenerateClipFallsBackToOriginal(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	bad := env.addClip("bad.mp4", 5*time.Second, func(d *types.ClipDescriptor) { d.Codec = "mpeg4" })

	res := env.usecase().Run(context.Background(), env.input())

	if !res.OK {
		t.Fatalf("a degenerate clip must not fail the job: %q", res.Error)
	}
	if len(env.runner.calls) != 1 {
		t.Fatalf("expected one convert attempt, got %d", len(env.runner.calls))
	}
	if res.Stats.Failed != 1 {
		t.Fatalf("expected the failure to be counted, got %+v", res.Stats)
	}
	if !slices.Equal(env.stitcher.concat, []string{bad}) {
		t.Fatalf("expected the original clip to be concatenated, got %v", env.stitcher.concat)
	}
	if len(env.stitcher.finalized) != 1 || env.stitcher.finalized[0] != 12*time.Second {
		t.Fatalf("expected a final cut at the explicit target, got %v", env.stitcher.finalized)
	}
}

func TestRun_HookFirstAndTrimmedClips(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	hook := env.addClip("hook.mp4", 4*time.Second, nil)
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4", "d.mp4"} {
		env.addClip(name, 5*time.Second, nil)
	}
	in := env.input()
	in.Hook = hook
	in.Policy = types.DurationPolicy{Mode: types.PolicyFixed, Fixed: 2 * time.Second}
	in.Target = 10 * time.Second

	res := env.usecase().Run(context.Background(), in)

	if !res.OK {
		t.Fatalf("run: %q", res.Error)
	}
	if env.stitcher.concat[0] != hook {
		t.Fatalf("hook must come first, got %v", env.stitcher.concat)
	}
	if len(env.stitcher.trims) != len(res.Plan.Entries)-1 {
		t.Fatalf("every non-hook clip is cut to 2s: %d trims for %d entries", len(env.stitcher.trims), len(res.Plan.Entries))
	}
	for _, d := range env.stitcher.trims {
		if d != 2*time.Second {
			t.Fatalf("unexpected trim length %v", d)
		}
	}
	for _, p := range env.stitcher.concat[1:] {
		if !strings.HasPrefix(filepath.Base(p), "trim-") {
			t.Fatalf("expected trimmed clip, got %s", p)
		}
	}
	assertEmptyDir(t, env.work)
}

func TestRun_ConcatFailureCleansUp(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.addClip("wide.mp4", 5*time.Second, func(d *types.ClipDescriptor) { d.Width, d.Height = 1920, 1080 })
	env.addClip("ok.mp4", 5*time.Second, nil)
	env.stitcher.concatErr = errors.New("exit status 1")

	in := env.input()
	res := env.usecase().Run(context.Background(), in)

	if res.OK || !strings.HasPrefix(res.Error, "concatenate: ") {
		t.Fatalf("expected concatenate failure, got %+v", res)
	}
	if len(env.runner.calls) != 1 {
		t.Fatalf("expected the wide clip to be resized, got %d encodes", len(env.runner.calls))
	}
	if _, err := os.Stat(in.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("no output may exist after a failure, stat err=%v", err)
	}
	assertEmptyDir(t, env.work)
}

func TestRun_MergeFailureCleansUp(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.addClip("wide.mp4", 5*time.Second, func(d *types.ClipDescriptor) { d.Width, d.Height = 1920, 1080 })
	env.addClip("ok.mp4", 5*time.Second, nil)
	env.addClip("more.mp4", 5*time.Second, nil)
	env.prober.durations[env.voice] = 12 * time.Second
	env.stitcher.mergeErr = errors.New("exit status 1")

	in := env.input()
	in.VoicePath = env.voice
	res := env.usecase().Run(context.Background(), in)

	if res.OK || res.Phase != PhaseFailed || !strings.HasPrefix(res.Error, "merge_audio: ") {
		t.Fatalf("expected merge_audio failure, got %+v", res)
	}
	if len(env.stitcher.concat) == 0 || len(env.stitcher.merges) != 1 {
		t.Fatalf("expected concatenation followed by one merge attempt, got concat=%v merges=%d", env.stitcher.concat, len(env.stitcher.merges))
	}
	if len(env.stitcher.finalized) != 0 {
		t.Fatalf("a failed merge must not fall through to the final cut")
	}
	if _, err := os.Stat(in.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("no output may exist after a failure, stat err=%v", err)
	}
	assertEmptyDir(t, env.work)
}

func TestRun_VanishedNormalizedClipFallsBackToOriginal(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	wide := env.addClip("wide.mp4", 15*time.Second, func(d *types.ClipDescriptor) { d.Width, d.Height = 1920, 1080 })

	seed := int64(7)
	u := New(Deps{
		Prober:     env.prober,
		Planner:    planner.New(env.prober.Duration, &seed, zerolog.Nop()),
		Normalizer: vanishingNormalizer{dir: env.work},
		Stitcher:   env.stitcher,
		Log:        zerolog.Nop(),
	})
	res := u.Run(context.Background(), env.input())

	if !res.OK {
		t.Fatalf("a vanished normalized clip must not fail the job: %q", res.Error)
	}
	if !slices.Equal(env.stitcher.concat, []string{wide}) {
		t.Fatalf("expected the original clip to be concatenated, got %v", env.stitcher.concat)
	}
}

func TestListClips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.MOV", "a.mp4", ".hidden.mp4", "notes.txt", "c.webm"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := ListClips(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "b.MOV"), filepath.Join(dir, "c.webm")}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

type env struct {
	t        *testing.T
	clips    string
	work     string
	voice    string
	out      string
	prober   *fakeProber
	runner   *fakeRunner
	stitcher *fakeStitcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		t:        t,
		clips:    filepath.Join(root, "clips"),
		work:     filepath.Join(root, "work"),
		voice:    filepath.Join(root, "voice.wav"),
		out:      filepath.Join(root, "out", "final.mp4"),
		prober:   &fakeProber{descs: map[string]types.ClipDescriptor{}, durations: map[string]time.Duration{}},
		runner:   &fakeRunner{},
		stitcher: &fakeStitcher{},
	}
	if err := os.MkdirAll(e.clips, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return e
}

// addClip writes a placeholder file and registers a target-ready descriptor
// for it, adjusted by mod.
func (e *env) addClip(name string, d time.Duration, mod func(*types.ClipDescriptor)) string {
	e.t.Helper()
	path := filepath.Join(e.clips, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		e.t.Fatalf("write clip: %v", err)
	}
	desc := types.ClipDescriptor{
		Path:            path,
		Codec:           "h264",
		PixelFormat:     "yuv420p",
		ColorSpace:      "bt709",
		ColorRange:      "tv",
		ColorPrimaries:  "bt709",
		Width:           canvas.Width,
		Height:          canvas.Height,
		FPS:             30,
		FrameCount:      int64(d.Seconds() * 30),
		DurationSeconds: d.Seconds(),
		HasAudio:        true,
		AudioCodec:      "aac",
	}
	if mod != nil {
		mod(&desc)
	}
	e.prober.descs[path] = desc
	e.prober.durations[path] = d
	return path
}

func (e *env) input() Input {
	return Input{
		ClipsDir:       e.clips,
		Canvas:         canvas,
		Crop:           types.CropCenter,
		Audio:          types.AudioKeep,
		Policy:         types.DurationPolicy{Mode: types.PolicyFull},
		Target:         12 * time.Second,
		OriginalVolume: 1,
		VoiceVolume:    1,
		OutputPath:     e.out,
		WorkDir:        e.work,
	}
}

func (e *env) usecase() Usecase {
	seed := int64(7)
	n := normalize.New(e.runner, e.prober, nil, fakeEncoders{}, normalize.Config{WorkDir: e.work}, zerolog.Nop())
	return New(Deps{
		Prober:     e.prober,
		Planner:    planner.New(e.prober.Duration, &seed, zerolog.Nop()),
		Normalizer: n,
		Stitcher:   e.stitcher,
		Log:        zerolog.Nop(),
	})
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %v", dir, entries)
	}
}

// fakeProber answers from registered descriptors; anything else looks like a
// one-frame video.
type fakeProber struct {
	descs     map[string]types.ClipDescriptor
	durations map[string]time.Duration
	calls     int
}

func (f *fakeProber) Probe(_ context.Context, path string) types.ClipDescriptor {
	f.calls++
	if d, ok := f.descs[path]; ok {
		return d
	}
	return types.ClipDescriptor{Path: path, Codec: "h264", Width: 1, Height: 1, FPS: 30, FrameCount: 1}
}

func (f *fakeProber) Duration(_ context.Context, path string) (time.Duration, error) {
	f.calls++
	d, ok := f.durations[path]
	if !ok {
		return 0, errors.New("no such file")
	}
	return d, nil
}

type fakeRunner struct {
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, _ string, args ...string) (ports.RunResult, error) {
	f.calls = append(f.calls, args)
	return ports.RunResult{}, os.WriteFile(args[len(args)-1], []byte("encoded"), 0o644)
}

type fakeEncoders struct{}

func (fakeEncoders) Detect(context.Context) encoder.Encoder { return encoder.Software }

// vanishingNormalizer reports work dir outputs that no longer exist.
type vanishingNormalizer struct{ dir string }

func (v vanishingNormalizer) NormalizeBatch(_ context.Context, clips []types.ClipDescriptor, _ normalize.Params) ([]string, types.NormalizationStats) {
	out := make([]string, len(clips))
	for i := range clips {
		out[i] = filepath.Join(v.dir, fmt.Sprintf("norm-%d.mp4", i))
	}
	return out, types.NormalizationStats{Resized: len(clips)}
}

type fakeStitcher struct {
	concat    []string
	concatErr error
	trims     []time.Duration
	merges    []stitch.MergeRequest
	mergeErr  error
	finalized []time.Duration
}

func (f *fakeStitcher) Concatenate(_ context.Context, clips []string, out string) error {
	f.concat = append([]string(nil), clips...)
	if f.concatErr != nil {
		return f.concatErr
	}
	return touch(out)
}

func (f *fakeStitcher) Trim(_ context.Context, _, out string, d time.Duration) error {
	f.trims = append(f.trims, d)
	return touch(out)
}

func (f *fakeStitcher) Finalize(_ context.Context, _, out string, target time.Duration) error {
	f.finalized = append(f.finalized, target)
	return touch(out)
}

func (f *fakeStitcher) Merge(_ context.Context, req stitch.MergeRequest) error {
	f.merges = append(f.merges, req)
	if f.mergeErr != nil {
		return f.mergeErr
	}
	return touch(req.Output)
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("media"), 0o644)
}
