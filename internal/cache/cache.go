package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/forPelevin/clipstitch/internal/types"
)

const DefaultMaxBytes int64 = 5 << 30

const (
	// evictTo is the fraction of maxBytes eviction shrinks the cache to.
	evictTo  = 0.8
	entryExt = ".mp4"
)

// Cache is a flat directory of normalized clips named <key>.mp4. The file
// itself is the index; access time orders eviction. No locking: concurrent
// writers overwrite each other and readers treat a vanished file as a miss.
type Cache struct {
	dir      string
	maxBytes int64
	log      zerolog.Logger
	now      func() time.Time
}

func New(dir string, maxBytes int64, log zerolog.Logger) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cache{dir: filepath.Clean(dir), maxBytes: maxBytes, log: log, now: time.Now}
}

func (c *Cache) Dir() string { return c.dir }

// Variant is the set of normalization settings that shape a cached clip.
// Anything that changes the encoded bytes belongs here.
type Variant struct {
	Canvas types.Canvas
	Crop   types.CropMode
	Audio  types.AudioMode
	FPS    float64
	Tier   string
}

// Key fingerprints a source file and the normalization parameters.
func Key(sourcePath string, mtime time.Time, v Variant) types.CacheKey {
	s := fmt.Sprintf("%s|%d|%d|%d|%s|%s|%s|%s",
		sourcePath, mtime.UnixNano(), v.Canvas.Width, v.Canvas.Height, v.Crop, v.Audio,
		strconv.FormatFloat(v.FPS, 'f', -1, 64), v.Tier)
	sum := sha256.Sum256([]byte(s))
	return types.CacheKey(hex.EncodeToString(sum[:])[:32])
}

// KeyFor stats sourcePath and builds its key.
func KeyFor(sourcePath string, v Variant) (types.CacheKey, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	return Key(abs, fi.ModTime(), v), nil
}

func (c *Cache) Path(key types.CacheKey) string {
	return filepath.Join(c.dir, string(key)+entryExt)
}

// Lookup returns the cached file for key and marks it recently used.
func (c *Cache) Lookup(key types.CacheKey) (string, types.CacheResult) {
	p := c.Path(key)
	fi, err := os.Stat(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", types.CacheMiss
	case err != nil:
		c.log.Warn().Str("key", string(key)).Err(err).Msg("cache lookup failed")
		return "", types.CacheIOError
	case !fi.Mode().IsRegular() || fi.Size() == 0:
		return "", types.CacheMiss
	}

	now := c.now()
	if err := os.Chtimes(p, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Evicted by another process between stat and touch.
			return "", types.CacheMiss
		}
		c.log.Warn().Str("key", string(key)).Err(err).Msg("cache touch failed")
	}
	return p, types.CacheHit
}

// Checkout makes the entry for key available at dst, as a hard link when the
// filesystem allows it and as a copy otherwise. The caller owns dst, so a
// later eviction cannot remove a clip it is still using. An entry that
// vanishes before it is linked is a miss.
func (c *Cache) Checkout(key types.CacheKey, dst string) types.CacheResult {
	src, res := c.Lookup(key)
	if res != types.CacheHit {
		return res
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		c.log.Warn().Str("key", string(key)).Err(err).Msg("cache checkout failed")
		return types.CacheIOError
	}
	if err := os.Link(src, dst); err == nil {
		return types.CacheHit
	}
	err := copyAtomic(src, filepath.Dir(dst), filepath.Base(dst))
	switch {
	case err == nil:
		return types.CacheHit
	case errors.Is(err, fs.ErrNotExist):
		return types.CacheMiss
	default:
		c.log.Warn().Str("key", string(key)).Err(err).Msg("cache checkout failed")
		return types.CacheIOError
	}
}

// Store copies normalizedPath into the cache under key and then evicts if the
// cache is over its limit. On failure it returns normalizedPath together with
// the error so the caller can carry on uncached.
func (c *Cache) Store(key types.CacheKey, normalizedPath string) (string, error) {
	dst := c.Path(key)
	if err := copyAtomic(normalizedPath, c.dir, filepath.Base(dst)); err != nil {
		c.log.Warn().Str("key", string(key)).Err(err).Msg("cache store failed; continuing uncached")
		return normalizedPath, fmt.Errorf("cache store: %w", err)
	}
	now := c.now()
	_ = os.Chtimes(dst, now, now)
	c.evict(filepath.Base(dst))
	return dst, nil
}

type entry struct {
	name  string
	size  int64
	atime time.Time
}

// EvictIfOverLimit removes least recently used entries once the cache is
// larger than its limit, down to 80% of it. Failures are logged, not returned.
func (c *Cache) EvictIfOverLimit() (removed int, freed int64) {
	return c.evict("")
}

func (c *Cache) evict(keep string) (removed int, freed int64) {
	entries, err := c.entries()
	if err != nil {
		c.log.Warn().Err(err).Msg("cache eviction: listing failed")
		return 0, 0
	}
	total := lo.SumBy(entries, func(e entry) int64 { return e.size })
	if total <= c.maxBytes {
		return 0, 0
	}

	goal := int64(float64(c.maxBytes) * evictTo)
	sort.Slice(entries, func(i, j int) bool { return entries[i].atime.Before(entries[j].atime) })
	for _, e := range entries {
		if total <= goal {
			break
		}
		if e.name == keep {
			continue
		}
		err := os.Remove(filepath.Join(c.dir, e.name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn().Str("entry", e.name).Err(err).Msg("cache eviction: remove failed")
			continue
		}
		total -= e.size
		freed += e.size
		removed++
	}
	c.log.Debug().Int("removed", removed).Int64("freed", freed).Int64("total", total).Msg("cache evicted")
	return removed, freed
}

func (c *Cache) entries() ([]entry, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		// In-flight temp files start with a dot and fail the name check.
		if !isEntryName(name) || !de.Type().IsRegular() {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, entry{name: name, size: fi.Size(), atime: accessTime(fi)})
	}
	return out, nil
}

type Stats struct {
	Entries  int
	Bytes    int64
	MaxBytes int64
}

func (c *Cache) Stats() (Stats, error) {
	entries, err := c.entries()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Entries:  len(entries),
		Bytes:    lo.SumBy(entries, func(e entry) int64 { return e.size }),
		MaxBytes: c.maxBytes,
	}, nil
}

// Clear removes every entry and any leftover temp files. Other files in the
// directory are left alone.
func (c *Cache) Clear() (int, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	var errs []error
	for _, de := range des {
		if !de.Type().IsRegular() || !owned(de.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// owned reports whether name is a cache entry or one of its temp files.
func owned(name string) bool {
	if strings.HasPrefix(name, ".") {
		base, _, ok := strings.Cut(name[1:], ".tmp-")
		return ok && isEntryName(base)
	}
	return isEntryName(name)
}

// isEntryName matches <key>.mp4 where key is lower-case hex, as Key produces.
func isEntryName(name string) bool {
	key, ok := strings.CutSuffix(name, entryExt)
	return ok && key != "" && strings.Trim(key, "0123456789abcdef") == ""
}

// copyAtomic copies src to dir/name via a temp file in the same directory
// and a rename, so readers never see a partial entry.
func copyAtomic(src, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}
