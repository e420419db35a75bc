package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RejectIfExistsAndMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	files := store.Files()

	f := &File{ID: "f1", Name: "a.txt", Status: FileStatusProcessing, CreatedAt: time.Now()}
	require.NoError(t, files.Add(ctx, f, "corr-1"))
	require.ErrorIs(t, files.Add(ctx, f, "corr-1"), ErrAlreadyExists)

	f.Status = FileStatusCompleted
	require.NoError(t, files.Replace(ctx, f, "corr-1"))

	missing := &File{ID: "nope"}
	require.ErrorIs(t, files.Replace(ctx, missing, "corr-1"), ErrNotFound)
	require.ErrorIs(t, files.Delete(ctx, "nope", "corr-1"), ErrNotFound)

	got, err := files.Get(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Equal(t, FileStatusCompleted, got.Status)
}

func TestMemoryStore_ChunksListByFileOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	chunks := store.Chunks()

	for _, seq := range []int{2, 0, 1} {
		c := &Chunk{ID: "f1_" + string(rune('0'+seq)), FileID: "f1", Sequence: seq}
		require.NoError(t, chunks.Add(ctx, c, "corr-1"))
	}

	list, err := chunks.ListByFile(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []int{0, 1, 2}, []int{list[0].Sequence, list[1].Sequence, list[2].Sequence})

	n, err := chunks.DeleteByFile(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	list, err = chunks.ListByFile(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemoryStore_ChunksListAllScansEveryRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	chunks := store.Chunks()

	require.NoError(t, chunks.Add(ctx, &Chunk{ID: "f1_0", FileID: "f1", Sequence: 0}, "corr-1"))
	require.NoError(t, chunks.Add(ctx, &Chunk{ID: "f2_0", FileID: "f2", Sequence: 0}, "corr-1"))

	lister, ok := chunks.(interface {
		ListAll(context.Context, string) ([]*Chunk, error)
	})
	require.True(t, ok, "memoryChunkStore must implement ListAll for the merge compatibility shim")

	all, err := lister.ListAll(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
