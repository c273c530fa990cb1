package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/forPelevin/clipstitch/internal/pipeline"
)

// applyEnv fills tool settings from the environment (and .env).
func applyEnv(cfg *pipeline.Config) error {
	if v := getenv("FFMPEG_PATH"); v != "" {
		cfg.FFmpegPath = v
	}
	if v := getenv("FFPROBE_PATH"); v != "" {
		cfg.FFprobePath = v
	}
	if v := getenv("CLIPSTITCH_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := getenv("CLIPSTITCH_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := getenv("CLIPSTITCH_CACHE_MAX_MB"); v != "" {
		mb, err := strconv.ParseInt(v, 10, 64)
		if err != nil || mb <= 0 {
			return fmt.Errorf("CLIPSTITCH_CACHE_MAX_MB must be a positive integer, got %q", v)
		}
		cfg.CacheMaxBytes = mb << 20
	}
	return nil
}

func getenv(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}
