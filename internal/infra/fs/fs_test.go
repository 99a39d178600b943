package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sweeper_wallet")

	removed, err := RemoveIfExists(path)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	removed, err = RemoveIfExists(path)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, path)
}

func TestWaitForFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet")

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(path, []byte("data"), 0600)
	}()

	require.NoError(t, WaitForFile(context.Background(), path, 3*time.Second))
}

func TestWaitForFileTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never")
	err := WaitForFile(context.Background(), path, 120*time.Millisecond)
	assert.ErrorContains(t, err, "timeout waiting for file")
}

func TestWaitForFileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForFile(ctx, filepath.Join(t.TempDir(), "never"), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.json")
	type status struct {
		Funded int      `json:"funded"`
		Swept  []string `json:"swept"`
	}

	require.NoError(t, SaveJSON(path, status{Funded: 2, Swept: []string{"bc1qtarget"}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got status
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 2, got.Funded)
	assert.Equal(t, []string{"bc1qtarget"}, got.Swept)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
