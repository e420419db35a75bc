package chunkengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"chuncker/internal/eventbus"
	"chuncker/internal/metadata"
	"chuncker/internal/storage"
)

// countingProvider wraps an in-memory store and counts concurrent Put
// calls in flight, used to assert the concurrency bound (property 7).
type countingProvider struct {
	id string
	mu sync.Mutex
	data map[string][]byte

	inFlight int32
	maxSeen  int32
}

func newCountingProvider(id string) *countingProvider {
	return &countingProvider{id: id, data: make(map[string][]byte)}
}

func (p *countingProvider) ProviderID() string   { return p.id }
func (p *countingProvider) ProviderType() string { return "counting" }
func (p *countingProvider) Close() error         { return nil }

func (p *countingProvider) Put(_ context.Context, chunkID string, data []byte, _ string) (string, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	for {
		max := atomic.LoadInt32(&p.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&p.maxSeen, max, n) {
			break
		}
	}
	defer atomic.AddInt32(&p.inFlight, -1)

	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.data[chunkID] = cp
	return chunkID, nil
}

func (p *countingProvider) Get(_ context.Context, chunkID, _, _ string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.data[chunkID]
	if !ok {
		return nil, fmt.Errorf("not found: %s", chunkID)
	}
	return d, nil
}

func (p *countingProvider) Exists(_ context.Context, chunkID, _, _ string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.data[chunkID]
	return ok, nil
}

func (p *countingProvider) Delete(_ context.Context, chunkID, _, _ string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[chunkID]; !ok {
		return false, nil
	}
	delete(p.data, chunkID)
	return true, nil
}

func newTestEngine(t *testing.T, providers ...storage.Provider) (*Engine, *metadata.MemoryStore) {
	t.Helper()
	store := metadata.NewMemoryStore()
	opts := DefaultOptions()
	opts.CompressionEnabled = true
	opts.SpoolDir = t.TempDir()
	set := storage.NewSet(providers...)
	bus := eventbus.New(nil)
	return New(opts, set, store.Files(), store.Chunks(), bus), store
}

func TestOptimalChunkSize_ConcreteScenarios(t *testing.T) {
	s := DefaultSizing()
	require.Equal(t, int64(32768), s.OptimalChunkSize(16384))
	require.Equal(t, int64(32768), s.OptimalChunkSize(32768))
	require.Equal(t, int64(1048576), s.OptimalChunkSize(1048576))
	got := s.OptimalChunkSize(104857600)
	require.GreaterOrEqual(t, got, int64(1048576))
	require.LessOrEqual(t, got, int64(4194304))
	require.Equal(t, int64(4194304), s.OptimalChunkSize(1073741824))
}

func TestOptimalChunkSize_Monotonic(t *testing.T) {
	s := DefaultSizing()
	// Size 0 maps to Default rather than Min (Split rejects empty input
	// before sizing), so it sits outside the monotonic sweep.
	require.Equal(t, s.Default, s.OptimalChunkSize(0))
	sizes := []int64{1, 16384, 32768, 100000, 1 * MiB, 10 * MiB, 100 * MiB, 1 * GiB, 10 * GiB, 20 * GiB}
	prev := int64(0)
	for _, sz := range sizes {
		got := s.OptimalChunkSize(sz)
		require.GreaterOrEqual(t, got, prev)
		require.GreaterOrEqual(t, got, s.Min)
		require.LessOrEqual(t, got, s.Max)
		prev = got
	}
}

func TestSplit_RejectsEmptyInput(t *testing.T) {
	e, _ := newTestEngine(t, newCountingProvider("p0"))
	_, err := e.Split(context.Background(), bytes.NewReader(nil), "f1", "empty.bin", "corr-1")
	require.Error(t, err)
}

func TestSplit_HelloWorldScenario(t *testing.T) {
	e, _ := newTestEngine(t, newCountingProvider("p0"))
	ctx := context.Background()

	f, err := e.Split(ctx, bytes.NewReader([]byte("hello\n")), "f1", "hello.txt", "corr-1")
	require.NoError(t, err)
	require.Equal(t, 1, f.ChunkCount)
	require.Equal(t, metadata.FileStatusCompleted, f.Status)

	var buf bytes.Buffer
	ok, err := e.Merge(ctx, "f1", &buf, "corr-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello\n", buf.String())
}

func TestRoundTrip_AcrossSizeBoundaries(t *testing.T) {
	sizes := []int{1, 32*1024 - 1, 32 * 1024, 1024 * 1024}
	for _, size := range sizes {
		size := size
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			e, _ := newTestEngine(t, newCountingProvider("p0"), newCountingProvider("p1"))
			ctx := context.Background()

			data := make([]byte, size)
			rand.New(rand.NewSource(int64(size))).Read(data)
			sum := sha256.Sum256(data)
			want := hex.EncodeToString(sum[:])

			fileID := fmt.Sprintf("file-%d", size)
			f, err := e.Split(ctx, bytes.NewReader(data), fileID, "blob.bin", "corr-1")
			require.NoError(t, err)
			require.Equal(t, want, f.Checksum)

			var buf bytes.Buffer
			ok, err := e.Merge(ctx, fileID, &buf, "corr-1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, data, buf.Bytes())
		})
	}
}

func TestSplit_SequenceCompleteness(t *testing.T) {
	e, store := newTestEngine(t, newCountingProvider("p0"), newCountingProvider("p1"), newCountingProvider("p2"))
	ctx := context.Background()

	data := make([]byte, 500*1024)
	rand.New(rand.NewSource(1)).Read(data)
	f, err := e.Split(ctx, bytes.NewReader(data), "f1", "a.bin", "corr-1")
	require.NoError(t, err)

	chunks, err := store.Chunks().ListByFile(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Len(t, chunks, f.ChunkCount)

	var total int64
	seen := make(map[int]bool)
	for _, c := range chunks {
		require.False(t, seen[c.Sequence])
		seen[c.Sequence] = true
		total += c.Size
	}
	require.Equal(t, int64(len(data)), total)
}

func TestSplit_RoundRobinPlacement(t *testing.T) {
	e, store := newTestEngine(t, newCountingProvider("filesystem"), newCountingProvider("objectstore"))
	ctx := context.Background()

	data := make([]byte, 3*1024*1024) // 3 MiB at a 1 MiB chunk size (the 1-10 MiB band) gives exactly 3 chunks
	e.opts.Sizing = Sizing{Min: 32 * 1024, Max: 4 * 1024 * 1024, Default: 1024 * 1024}
	f, err := e.Split(ctx, bytes.NewReader(data), "f1", "a.bin", "corr-1")
	require.NoError(t, err)
	require.Equal(t, 3, f.ChunkCount)

	chunks, err := store.Chunks().ListByFile(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Equal(t, "filesystem", chunks[0].StorageProviderID)
	require.Equal(t, "objectstore", chunks[1].StorageProviderID)
	require.Equal(t, "filesystem", chunks[2].StorageProviderID)
}

func TestSplit_ConcurrencyBound(t *testing.T) {
	p := newCountingProvider("p0")
	e, _ := newTestEngine(t, p)
	e.opts.MaxParallelTasks = 2
	e.chunkSem = semaphore.NewWeighted(2)
	e.opts.Sizing = Sizing{Min: 1024, Max: 4096, Default: 64 * 1024}

	// 1 MiB at a 64 KiB chunk size (the 1-10 MiB band) gives 16 chunks.
	data := make([]byte, 1024*1024)
	rand.New(rand.NewSource(2)).Read(data)
	_, err := e.Split(context.Background(), bytes.NewReader(data), "f1", "a.bin", "corr-1")
	require.NoError(t, err)
	require.LessOrEqual(t, p.maxSeen, int32(2))
}

func TestMergeAndVerify_IntegrityRejection(t *testing.T) {
	p := newCountingProvider("p0")
	e, store := newTestEngine(t, p)
	ctx := context.Background()

	data := make([]byte, 64*1024)
	rand.New(rand.NewSource(3)).Read(data)
	_, err := e.Split(ctx, bytes.NewReader(data), "f1", "a.bin", "corr-1")
	require.NoError(t, err)

	dir := t.TempDir()
	sinkPath := dir + "/out.bin"
	sink, err := os.Create(sinkPath)
	require.NoError(t, err)
	ok, err := e.MergeAndVerify(ctx, "f1", sink, "corr-1", true)
	require.NoError(t, err)
	require.True(t, ok)
	sink.Close()

	// Corrupt one byte of the first stored chunk.
	chunks, err := store.Chunks().ListByFile(ctx, "f1", "corr-1")
	require.NoError(t, err)
	c0 := chunks[0]
	p.mu.Lock()
	corrupted := append([]byte(nil), p.data[c0.ID]...)
	corrupted[0] ^= 0xFF
	p.data[c0.ID] = corrupted
	p.mu.Unlock()

	sink2, err := os.Create(dir + "/out2.bin")
	require.NoError(t, err)
	defer sink2.Close()
	// The flipped byte breaks the gzip stream, so merge itself fails.
	ok, err = e.MergeAndVerify(ctx, "f1", sink2, "corr-1", true)
	require.Error(t, err)
	require.False(t, ok)
}

func TestDelete_Idempotence(t *testing.T) {
	e, _ := newTestEngine(t, newCountingProvider("p0"))
	ctx := context.Background()

	_, err := e.Split(ctx, bytes.NewReader([]byte("data")), "f1", "a.bin", "corr-1")
	require.NoError(t, err)

	ok, err := e.Delete(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Delete(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMerge_LegacyChunkCompatibilityFallback(t *testing.T) {
	p := newCountingProvider("p0")
	e, store := newTestEngine(t, p)
	ctx := context.Background()

	// Simulate chunk records written before fileId indexing existed: the
	// ID still carries the "<fileId>_<sequence>" convention but the
	// FileID field itself is blank, so ListByFile("f1") finds nothing and
	// the engine must fall back to scanning every chunk and filtering by
	// id prefix.
	want := []byte("legacy payload")
	path, err := p.Put(ctx, "f1_0", want, "corr-1")
	require.NoError(t, err)
	require.NoError(t, store.Chunks().Add(ctx, &metadata.Chunk{
		ID:                "f1_0",
		FileID:            "",
		Sequence:          0,
		Size:              int64(len(want)),
		CompressedSize:    int64(len(want)),
		StorageProviderID: "p0",
		StoragePath:       path,
		Status:            "stored",
		CorrelationID:     "corr-1",
	}, "corr-1"))

	chunks, err := e.loadChunksForMerge(ctx, "f1", "corr-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.True(t, chunks[0].Suspect)

	var buf bytes.Buffer
	ok, err := e.Merge(ctx, "f1", &buf, "corr-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, buf.Bytes())
}

func TestDelete_NonExistentFileReturnsFalse(t *testing.T) {
	e, _ := newTestEngine(t, newCountingProvider("p0"))
	ok, err := e.Delete(context.Background(), "does-not-exist", "corr-1")
	require.NoError(t, err)
	require.False(t, ok)
}
