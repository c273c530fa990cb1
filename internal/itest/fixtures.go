//go:build integration

package itest

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func findRepoRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
			return wd, nil
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		wd = parent
	}
	return "", errors.New("could not locate go.mod")
}

// clipSpec describes a synthetic source clip rendered from lavfi sources.
type clipSpec struct {
	name    string
	size    string
	rate    string
	seconds int
	vcodec  []string
	pixFmt  string
	audio   bool
}

func makeClip(t *testing.T, dir string, c clipSpec) string {
	t.Helper()
	out := filepath.Join(dir, c.name)
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc2=s=%s:r=%s:d=%d", c.size, c.rate, c.seconds),
	}
	if c.audio {
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=440:sample_rate=48000:duration=%d", c.seconds))
	}
	args = append(args, c.vcodec...)
	args = append(args, "-pix_fmt", c.pixFmt)
	if c.audio {
		args = append(args, "-c:a", "aac", "-shortest")
	}
	args = append(args, out)
	if b, err := exec.Command("ffmpeg", args...).CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture %s failed: %v\n%s", c.name, err, string(b))
	}
	return out
}

func makeVoice(t *testing.T, path string, seconds float64) string {
	t.Helper()
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=220:sample_rate=44100:duration=%s", strconv.FormatFloat(seconds, 'f', -1, 64)),
		path,
	)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg voice fixture failed: %v\n%s", err, string(b))
	}
	return path
}

func probeDurationSeconds(mp4Path string) (float64, error) {
	s, err := ffprobeValue(mp4Path, "format=duration")
	if err != nil {
		return 0, err
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return sec, nil
}

// probeVideo returns "WxH@rate" of the first video stream.
func probeVideo(mp4Path string) (string, error) {
	s, err := ffprobeValue(mp4Path, "stream=width,height,r_frame_rate", "-select_streams", "v:0")
	if err != nil {
		return "", err
	}
	f := strings.Fields(s)
	if len(f) != 3 {
		return "", fmt.Errorf("unexpected ffprobe output %q", s)
	}
	return fmt.Sprintf("%sx%s@%s", f[0], f[1], f[2]), nil
}

func ffprobeValue(path, entries string, extra ...string) (string, error) {
	args := append([]string{"-v", "error"}, extra...)
	args = append(args,
		"-show_entries", entries,
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	b, err := exec.Command("ffprobe", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	return strings.TrimSpace(string(b)), nil
}
