//go:build integration

package itest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forPelevin/clipstitch/internal/pipeline"
	"github.com/forPelevin/clipstitch/internal/types"
)

var bt709 = []string{"-colorspace", "bt709", "-color_primaries", "bt709", "-color_trc", "bt709"}

// The three sources land in different categories: target-ready, wrong
// geometry and frame rate, and MPEG-4 without audio.
var sources = []clipSpec{
	{name: "ready.mp4", size: "540x960", rate: "30", seconds: 5, vcodec: append([]string{"-c:v", "libx264"}, bt709...), pixFmt: "yuv420p", audio: true},
	{name: "wide.mp4", size: "1280x720", rate: "25", seconds: 4, vcodec: append([]string{"-c:v", "libx264"}, bt709...), pixFmt: "yuv420p", audio: true},
	{name: "legacy.avi", size: "640x480", rate: "24", seconds: 3, vcodec: []string{"-c:v", "mpeg4"}, pixFmt: "yuv420p"},
}

func newConfig(t *testing.T, clipsDir, root string) pipeline.Config {
	t.Helper()
	seed := int64(1)
	cfg := pipeline.DefaultConfig()
	cfg.ClipsDir = clipsDir
	cfg.Width = 540
	cfg.Height = 960
	cfg.Seed = &seed
	cfg.Quality = "fast"
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.WorkDir = filepath.Join(root, "work")
	cfg.OutDir = filepath.Join(root, "out")
	return cfg
}

func TestE2E_VoiceDrivenJobAndCacheReuse(t *testing.T) {
	root := t.TempDir()
	clips := filepath.Join(root, "clips")
	if err := os.MkdirAll(clips, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, s := range sources {
		makeClip(t, clips, s)
	}
	// Longer than any two clips, shorter than all three.
	voice := makeVoice(t, filepath.Join(root, "voice.wav"), 11.5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg := newConfig(t, clips, root)
	cfg.Voice = voice
	cfg.OriginalVolume = 0.2

	first := pipeline.Run(ctx, cfg)
	if !first.OK {
		t.Fatalf("first run failed: %s", first.Error)
	}
	if got := len(first.Plan.Entries); got != 3 {
		t.Fatalf("expected all three clips to be planned, got %d", got)
	}
	if s := first.Stats; s.Compatible != 1 || s.Resized != 1 || s.Converted != 1 || s.Failed != 0 {
		t.Fatalf("unexpected first-run stats: %+v", s)
	}
	assertDuration(t, first.OutputPath, 11.5)
	assertVideo(t, first.OutputPath, "540x960@30/1")

	second := pipeline.Run(ctx, cfg)
	if !second.OK {
		t.Fatalf("second run failed: %s", second.Error)
	}
	if second.Stats.CachedHits != 2 || second.Stats.Resized+second.Stats.Converted != 0 {
		t.Fatalf("expected both normalized clips from cache, got %+v", second.Stats)
	}
	if second.OutputPath == first.OutputPath {
		t.Fatalf("each run must get its own output")
	}

	entries, err := os.ReadDir(filepath.Join(cfg.WorkDir, "jobs"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("job work dirs must be removed, found %d", len(entries))
	}
}

func TestE2E_ExplicitTargetStripAudio(t *testing.T) {
	root := t.TempDir()
	clips := filepath.Join(root, "clips")
	if err := os.MkdirAll(clips, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, s := range sources {
		makeClip(t, clips, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg := newConfig(t, clips, root)
	cfg.Target = 6 * time.Second
	cfg.Audio = types.AudioStrip
	cfg.ClipPolicy = types.PolicyFixed
	cfg.FixedClip = 2 * time.Second
	cfg.NoCache = true
	cfg.Output = filepath.Join(root, "final.mp4")

	res := pipeline.Run(ctx, cfg)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if res.OutputPath != cfg.Output {
		t.Fatalf("unexpected output path %s", res.OutputPath)
	}
	assertDuration(t, res.OutputPath, 6)
	if _, err := os.Stat(cfg.CacheDir); !os.IsNotExist(err) {
		t.Fatalf("--no-cache must not create the cache dir, stat err=%v", err)
	}
}

func TestE2E_EmptyDirectoryFails(t *testing.T) {
	root := t.TempDir()
	cfg := newConfig(t, root, root)
	cfg.Target = 5 * time.Second

	res := pipeline.Run(context.Background(), cfg)
	if res.OK {
		t.Fatalf("expected failure for an empty clips dir")
	}
	if _, err := os.Stat(cfg.OutDir); !os.IsNotExist(err) {
		t.Fatalf("no output may be produced, stat err=%v", err)
	}
}

func assertDuration(t *testing.T, path string, want float64) {
	t.Helper()
	got, err := probeDurationSeconds(path)
	if err != nil {
		t.Fatalf("probe %s: %v", path, err)
	}
	if math.Abs(got-want) > 0.2 {
		t.Fatalf("duration %.3fs, want %.3fs ±0.2s", got, want)
	}
}

func assertVideo(t *testing.T, path, want string) {
	t.Helper()
	got, err := probeVideo(path)
	if err != nil {
		t.Fatalf("probe %s: %v", path, err)
	}
	if got != want {
		t.Fatalf("video stream %s, want %s", got, want)
	}
}
