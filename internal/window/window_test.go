package window

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_RejectsEmptySource(t *testing.T) {
	_, err := Open(strings.NewReader(""), 0, t.TempDir())
	require.ErrorIs(t, err, ErrEmptySource)
}

func TestOpen_SeekableFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/input.bin"
	want := bytes.Repeat([]byte("abcd"), 1024)
	require.NoError(t, os.WriteFile(path, want, 0o600))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := Open(f, int64(len(want)), dir)
	require.NoError(t, err)
	defer w.Close()

	got, err := w.ReadRange(0, int64(len(want)))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestOpen_NonSeekableSource_MaterializesTempFile(t *testing.T) {
	dir := t.TempDir()
	want := bytes.Repeat([]byte("xyz1"), 2048)

	w, err := Open(bytes.NewReader(want), int64(len(want)), dir)
	require.NoError(t, err)
	require.True(t, w.ownsFile)
	require.NotEmpty(t, w.tempPath)

	got, err := w.ReadRange(10, 20)
	require.NoError(t, err)
	require.Equal(t, want[10:30], got)

	tempPath := w.tempPath
	require.NoError(t, w.Close())
	_, statErr := os.Stat(tempPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestReadRange_ConcurrentDisjointRanges(t *testing.T) {
	dir := t.TempDir()
	want := bytes.Repeat([]byte("0123456789"), 4096)
	path := dir + "/input.bin"
	require.NoError(t, os.WriteFile(path, want, 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := Open(f, int64(len(want)), dir)
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	chunk := int64(1000)
	for i := int64(0); i*chunk < int64(len(want)); i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			got, err := w.ReadRange(i*chunk, chunk)
			require.NoError(t, err)
			require.Equal(t, want[i*chunk:i*chunk+chunk], got)
		}(i)
	}
	wg.Wait()
}

func TestReadRange_OutOfBounds(t *testing.T) {
	dir := t.TempDir()
	want := []byte("short")
	path := dir + "/input.bin"
	require.NoError(t, os.WriteFile(path, want, 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := Open(f, int64(len(want)), dir)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.ReadRange(0, int64(len(want))+1)
	require.Error(t, err)
}
