package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chuncker/internal/metadata"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIndexer_NonRecursiveWalk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "aaa")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "bbb")

	store := metadata.NewMemoryStore()
	idx := New(store.Files(), nil)

	summary, err := idx.Walk(context.Background(), dir, Options{Recursive: false}, "corr-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.FileCount)
	require.Equal(t, 1, summary.DirectoryCount)
}

func TestIndexer_RecursiveWalkProcessesContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "aaa")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "bbb")

	store := metadata.NewMemoryStore()
	idx := New(store.Files(), nil)

	summary, err := idx.Walk(context.Background(), dir, Options{Recursive: true, ProcessContent: true}, "corr-1")
	require.NoError(t, err)
	require.Equal(t, 2, summary.FileCount)
	require.Equal(t, 1, summary.DirectoryCount)

	files, err := store.Files().List(context.Background(), metadata.FileFilter{}, "corr-1")
	require.NoError(t, err)
	for _, f := range files {
		if !f.IsDirectory {
			require.True(t, f.IsIndexed)
			require.NotEmpty(t, f.Checksum)
		}
	}
}

func TestIndexer_DuplicateDetectionTagsByChecksum(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "same-content")
	writeFile(t, filepath.Join(dir, "b.txt"), "same-content")
	writeFile(t, filepath.Join(dir, "c.txt"), "different")

	store := metadata.NewMemoryStore()
	idx := New(store.Files(), nil)

	_, err := idx.Walk(context.Background(), dir, Options{
		Recursive:       true,
		ProcessContent:  true,
		CheckDuplicates: true,
	}, "corr-1")
	require.NoError(t, err)

	files, err := store.Files().List(context.Background(), metadata.FileFilter{}, "corr-1")
	require.NoError(t, err)

	dupCount := 0
	for _, f := range files {
		if hasTag(f.Tags, "duplicate") {
			dupCount++
		}
	}
	require.Equal(t, 2, dupCount)
}

func TestIndexer_GlobFiltering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.go"), "package x")
	writeFile(t, filepath.Join(dir, "skip.txt"), "nope")

	store := metadata.NewMemoryStore()
	idx := New(store.Files(), nil)

	summary, err := idx.Walk(context.Background(), dir, Options{
		Recursive:    false,
		IncludeGlobs: []string{"*.go"},
	}, "corr-1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.FileCount)
}
