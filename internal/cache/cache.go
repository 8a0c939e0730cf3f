// Package cache is a content- and URL-addressed disk store shared by the
// pipeline's three stages: raw fetched pages, extracted plain text, and
// classification results.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stage names one of the three cached pipeline stages.
type Stage string

const (
	StagePage           Stage = "page"
	StageExtracted      Stage = "extracted"
	StageClassification Stage = "classification"
)

// AllStages returns the stages in pipeline order.
func AllStages() []Stage {
	return []Stage{StagePage, StageExtracted, StageClassification}
}

// stageExt maps each stage to its on-disk file extension.
var stageExt = map[Stage]string{
	StagePage:           ".html",
	StageExtracted:      ".txt",
	StageClassification: ".json",
}

// URLKey derives a cache key from a URL. Used for the page and extracted
// stages, where the URL identifies the input.
func URLKey(url string) string {
	return shortHash(url)
}

// ContentKey derives a cache key for the classification stage from the
// exact text submitted to the model plus the model identifier and prompt
// version. Changing any of the three invalidates stale classifications
// without an explicit flag.
func ContentKey(text, model, promptVersion string) string {
	return shortHash(text + "\x00" + model + "\x00" + promptVersion)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// Store is the on-disk cache. Distinct (stage, key) pairs never collide, so
// concurrent writers across scrapers are safe as long as no two operate on
// the same URL, which discovery prevents.
type Store struct {
	root string
}

// New creates a Store rooted at dir. The directory tree is created lazily
// on first Put, so a missing cache directory is never an error.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(stage Stage, key string) string {
	return filepath.Join(s.root, string(stage), key+stageExt[stage])
}

// Get returns the cached payload for (stage, key), or ok=false on a miss.
// A file that exists but cannot be read is treated as a miss — corruption
// of a single entry must not abort the run.
func (s *Store) Get(stage Stage, key string) ([]byte, bool) {
	p := s.path(stage, key)
	data, err := os.ReadFile(p)
	if err != nil {
		zap.L().Debug("cache miss",
			zap.String("stage", string(stage)),
			zap.String("key", key),
		)
		return nil, false
	}
	zap.L().Debug("cache hit",
		zap.String("stage", string(stage)),
		zap.String("key", key),
	)
	return data, true
}

// GetJSON reads and unmarshals a cached classification entry into v.
// A deserialization failure is logged and treated as a miss.
func (s *Store) GetJSON(stage Stage, key string, v any) bool {
	data, ok := s.Get(stage, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		zap.L().Warn("cache entry corrupt, treating as miss",
			zap.String("stage", string(stage)),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Put writes a payload to (stage, key). This is the only path that creates
// on-disk cache state. A key is immutable once written: callers derive keys
// so that a changed input always produces a different key.
func (s *Store) Put(stage Stage, key string, value []byte) error {
	dir := filepath.Join(s.root, string(stage))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "cache: create stage dir")
	}
	p := s.path(stage, key)
	if err := os.WriteFile(p, value, 0o644); err != nil {
		return eris.Wrap(err, "cache: write entry")
	}
	zap.L().Debug("cache put",
		zap.String("stage", string(stage)),
		zap.String("key", key),
		zap.Int("bytes", len(value)),
	)
	return nil
}

// Clear deletes all entries for one stage, or for every stage when stage is
// empty. Returns the number of files removed. Clearing is the only way
// cached state is ever discarded — it never happens implicitly.
func (s *Store) Clear(stage Stage) (int, error) {
	stages := []Stage{stage}
	if stage == "" {
		stages = AllStages()
	}

	count := 0
	for _, st := range stages {
		dir := filepath.Join(s.root, string(st))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return count, eris.Wrap(err, "cache: read stage dir")
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return count, eris.Wrap(err, "cache: remove entry")
			}
			count++
		}
	}

	zap.L().Info("cache cleared",
		zap.String("stage", string(stage)),
		zap.Int("removed", count),
	)
	return count, nil
}
