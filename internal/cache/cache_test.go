package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := New(t.TempDir())

	key := URLKey("https://example.gov/fact-sheet")
	payload := []byte("<html><body>deal text</body></html>")

	_, ok := s.Get(StagePage, key)
	assert.False(t, ok, "expected miss before put")

	require.NoError(t, s.Put(StagePage, key, payload))

	got, ok := s.Get(StagePage, key)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestStore_LazyDirCreation(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	s := New(root)

	// Reads against a missing root are plain misses, not errors.
	_, ok := s.Get(StageExtracted, URLKey("https://example.gov"))
	assert.False(t, ok)

	require.NoError(t, s.Put(StageExtracted, URLKey("https://example.gov"), []byte("text")))
	_, err := os.Stat(filepath.Join(root, "extracted"))
	assert.NoError(t, err)
}

func TestContentKey_InvalidatesOnPromptOrModelChange(t *testing.T) {
	text := "Fact Sheet: United States-Japan framework"

	base := ContentKey(text, "model-a", "v1")

	assert.NotEqual(t, base, ContentKey(text, "model-b", "v1"), "model change must change the key")
	assert.NotEqual(t, base, ContentKey(text, "model-a", "v2"), "prompt version change must change the key")
	assert.NotEqual(t, base, ContentKey(text+" edited", "model-a", "v1"), "text change must change the key")
	assert.Equal(t, base, ContentKey(text, "model-a", "v1"), "identical inputs must derive the same key")
}

func TestStore_GetJSON_CorruptEntryIsMiss(t *testing.T) {
	s := New(t.TempDir())
	key := ContentKey("some text", "m", "v1")

	require.NoError(t, s.Put(StageClassification, key, []byte("{not json")))

	var out map[string]any
	assert.False(t, s.GetJSON(StageClassification, key, &out))
}

func TestStore_GetJSON_RoundTrip(t *testing.T) {
	s := New(t.TempDir())
	key := ContentKey("text", "m", "v1")

	require.NoError(t, s.Put(StageClassification, key, []byte(`{"is_framework": true, "title": "US-UK deal"}`)))

	var out map[string]any
	require.True(t, s.GetJSON(StageClassification, key, &out))
	assert.Equal(t, true, out["is_framework"])
	assert.Equal(t, "US-UK deal", out["title"])
}

func TestStore_Clear(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Put(StagePage, "k1", []byte("a")))
	require.NoError(t, s.Put(StagePage, "k2", []byte("b")))
	require.NoError(t, s.Put(StageClassification, "k3", []byte("{}")))

	n, err := s.Clear(StagePage)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := s.Get(StagePage, "k1")
	assert.False(t, ok)
	_, ok = s.Get(StageClassification, "k3")
	assert.True(t, ok, "clearing one stage must not touch another")

	// Empty stage clears everything.
	n, err = s.Clear("")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ClearMissingDirIsNoop(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	n, err := s.Clear("")
	require.NoError(t, err)
	assert.Zero(t, n)
}
