package pipeline

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-tracker/internal/classifier"
	"github.com/sells-group/deal-tracker/internal/model"
)

// RawSnapshot is the fetch-only artifact: discovered candidates before
// any classification.
type RawSnapshot struct {
	Meta     model.RunMeta        `json:"meta"`
	RawDeals []model.RawCandidate `json:"raw_deals"`
}

// WriteSnapshot writes the snapshot atomically: encode to a temp file in
// the target directory, then rename over the destination. A reader never
// observes a partial file, and a crashed run leaves the previous
// snapshot intact.
func WriteSnapshot(path string, snap *model.Snapshot) error {
	return writeJSON(path, snap)
}

// WriteRaw atomically writes the fetch-only artifact.
func WriteRaw(path string, raw *RawSnapshot) error {
	return writeJSON(path, raw)
}

// SaveBatchState persists the submitted batch so a later invocation can
// collect it.
func SaveBatchState(path string, st *classifier.BatchState) error {
	return writeJSON(path, st)
}

// LoadBatchState reads the pending batch state.
func LoadBatchState(path string) (*classifier.BatchState, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Errorf("no pending batch state at %s; submit one with --batch first", path)
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read batch state")
	}
	var st classifier.BatchState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse batch state")
	}
	if st.BatchID == "" {
		return nil, eris.Errorf("batch state %s has no batch id", path)
	}
	return &st, nil
}

// ClearBatchState removes the pending batch state after collection.
func ClearBatchState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "pipeline: clear batch state")
	}
	return nil
}

func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".deals-*.tmp")
	if err != nil {
		return eris.Wrap(err, "pipeline: create temp file")
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return eris.Wrap(err, "pipeline: encode")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "pipeline: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "pipeline: rename to %s", path)
	}
	return nil
}
