// Package chunkengine implements the split/merge/delete pipeline over a
// provider set and metadata store: adaptive chunk sizing, parallel
// hashing/compression, round-robin placement, and parallel-safe,
// sequential reassembly with integrity verification.
package chunkengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"chuncker/internal/chunckerr"
	"chuncker/internal/eventbus"
	"chuncker/internal/metadata"
	"chuncker/internal/obs"
	"chuncker/internal/storage"
	"chuncker/internal/window"
)

// Options configures one Engine instance.
type Options struct {
	Sizing             Sizing
	CompressionEnabled bool
	CompressionLevel   int // 1-9
	MaxParallelTasks   int64
	SpoolDir           string // directory for non-seekable source materialization
}

// DefaultOptions returns the defaults named in spec §4.F/§5/§6.
func DefaultOptions() Options {
	return Options{
		Sizing:             DefaultSizing(),
		CompressionEnabled: true,
		CompressionLevel:   6,
		MaxParallelTasks:   4,
	}
}

// Engine is the public contract named in spec §4.F.
type Engine struct {
	opts      Options
	providers *storage.Set
	files     metadata.FileStore
	chunks    metadata.ChunkStore
	bus       *eventbus.Bus
	chunkSem  *semaphore.Weighted
}

// New constructs an Engine over the given provider set and metadata
// store.
func New(opts Options, providers *storage.Set, files metadata.FileStore, chunks metadata.ChunkStore, bus *eventbus.Bus) *Engine {
	if opts.MaxParallelTasks <= 0 {
		opts.MaxParallelTasks = 4
	}
	return &Engine{
		opts:      opts,
		providers: providers,
		files:     files,
		chunks:    chunks,
		bus:       bus,
		chunkSem:  semaphore.NewWeighted(opts.MaxParallelTasks),
	}
}

// OptimalChunkSize is a pure function of file size; see spec §4.F.
func (e *Engine) OptimalChunkSize(fileSize int64) int64 {
	return e.opts.Sizing.OptimalChunkSize(fileSize)
}

// Split ingests source under fileID (a caller-supplied id), producing a
// File record and one Chunk record per sequence number.
func (e *Engine) Split(ctx context.Context, source io.Reader, fileID, fileName, correlationID string) (*metadata.File, error) {
	return e.split(ctx, source, fileID, fileName, correlationID, false)
}

// SplitExisting behaves like Split but targets or replaces an existing
// File record identified by reuseID instead of creating a new one.
func (e *Engine) SplitExisting(ctx context.Context, source io.Reader, fileID, correlationID, reuseID string) (*metadata.File, error) {
	return e.split(ctx, source, fileID, reuseID, correlationID, true)
}

func (e *Engine) split(ctx context.Context, source io.Reader, fileID, fileName, correlationID string, replacing bool) (*metadata.File, error) {
	timer := obs.NewTimer(ctx, "chunkengine", "split")
	defer timer.Stop()
	logger := obs.Logger(ctx)

	// Stream the source once: if it's already a seekable *os.File, hash
	// it in place and mmap the same file directly (no copy). Otherwise
	// spool it to a temp file while hashing in the same pass, then mmap
	// the spooled file. Either way the full content is never held in
	// memory at once.
	length, checksum, win, cleanup, err := e.materializeSource(source, e.opts.SpoolDir)
	if err != nil {
		timer.Fail()
		return nil, fmt.Errorf("chunkengine: split %s: %w", fileID, err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if length == 0 {
		timer.Fail()
		return nil, fmt.Errorf("chunkengine: split %s: %w: empty input is rejected", fileID, chunckerr.ErrInvariant)
	}
	defer win.Close()

	chunkSize := e.OptimalChunkSize(length)
	count := int((length + chunkSize - 1) / chunkSize)

	now := time.Now()
	file := &metadata.File{
		ID:            fileID,
		Name:          fileName,
		Size:          length,
		Checksum:      checksum,
		ChunkCount:    count,
		Status:        metadata.FileStatusProcessing,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if replacing {
		if err := e.files.Replace(ctx, file, correlationID); err != nil {
			timer.Fail()
			return nil, fmt.Errorf("chunkengine: split %s: replace file record: %w", fileID, err)
		}
	} else {
		if err := e.files.Add(ctx, file, correlationID); err != nil {
			timer.Fail()
			return nil, fmt.Errorf("chunkengine: split %s: add file record: %w", fileID, err)
		}
	}

	type taskResult struct {
		seq int
		err error
	}
	results := make(chan taskResult, count)

	for i := 0; i < count; i++ {
		i := i
		if err := e.chunkSem.Acquire(ctx, 1); err != nil {
			results <- taskResult{seq: i, err: fmt.Errorf("%w: %v", chunckerr.ErrCancelled, err)}
			continue
		}
		go func() {
			defer e.chunkSem.Release(1)
			results <- taskResult{seq: i, err: e.splitOne(ctx, win, file, i, chunkSize, length, correlationID)}
		}()
	}

	var firstErr error
	for i := 0; i < count; i++ {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}

	if firstErr != nil {
		timer.Fail()
		logger.Error("split failed", "fileId", fileID, "error", firstErr)
		e.failFile(ctx, file, correlationID)
		return file, firstErr
	}

	file.Status = metadata.FileStatusCompleted
	file.UpdatedAt = time.Now()
	if err := e.files.Replace(ctx, file, correlationID); err != nil {
		timer.Fail()
		return nil, fmt.Errorf("chunkengine: split %s: finalize file record: %w", fileID, err)
	}

	if e.bus != nil {
		e.bus.Publish(ctx, eventbus.NewFileProcessed(fileID+"-processed", fileID, fileName, length, checksum, count, correlationID, time.Now()))
	}
	return file, nil
}

func (e *Engine) failFile(ctx context.Context, file *metadata.File, correlationID string) {
	file.Status = metadata.FileStatusError
	file.UpdatedAt = time.Now()
	_ = e.files.Replace(ctx, file, correlationID)
}

// materializeSource produces a random-access window over source plus its
// whole-content SHA-256, without ever holding the full content in memory.
//
// If source is already a seekable *os.File, it is hashed by streaming
// through it and then mmap'd directly in place (size from Stat, position
// restored to 0 afterward) — the real-file fast path used by every CLI
// upload. Any other io.Reader is spooled to a temp file in dir while
// being hashed in the same pass (io.Copy into a multi-writer of the temp
// file and the hasher), then that temp file is mmap'd the same way.
//
// The returned cleanup func (nil in the *os.File case, where the caller
// owns the file) removes the temp file once the caller is done with win;
// it must be called after win.Close().
func (e *Engine) materializeSource(source io.Reader, dir string) (length int64, checksum string, win *window.Window, cleanup func(), err error) {
	f, isFile := source.(*os.File)
	if isFile {
		// Pipes, terminals and other non-regular files have no usable
		// size and cannot be rewound; they take the spool path below.
		if info, statErr := f.Stat(); statErr == nil && !info.Mode().IsRegular() {
			isFile = false
		}
	}
	if isFile {
		info, statErr := f.Stat()
		if statErr != nil {
			return 0, "", nil, nil, fmt.Errorf("stat source: %w", statErr)
		}
		length = info.Size()
		if length == 0 {
			return 0, "", nil, nil, nil
		}
		h := sha256.New()
		if _, err = io.Copy(h, f); err != nil {
			return 0, "", nil, nil, fmt.Errorf("hash source: %w", err)
		}
		if _, err = f.Seek(0, io.SeekStart); err != nil {
			return 0, "", nil, nil, fmt.Errorf("rewind source: %w", err)
		}
		checksum = hex.EncodeToString(h.Sum(nil))
		win, err = window.Open(f, length, dir)
		if err != nil {
			return 0, "", nil, nil, fmt.Errorf("open window: %w", err)
		}
		return length, checksum, win, nil, nil
	}

	tmp, err := os.CreateTemp(dir, "chuncker-split-*")
	if err != nil {
		return 0, "", nil, nil, fmt.Errorf("create temp file: %w", err)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), source)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, "", nil, nil, fmt.Errorf("spool source: %w", err)
	}
	length = n
	if length == 0 {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, "", nil, nil, nil
	}
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, "", nil, nil, fmt.Errorf("rewind temp file: %w", err)
	}
	checksum = hex.EncodeToString(h.Sum(nil))
	tempPath := tmp.Name()
	win, err = window.Open(tmp, length, dir)
	if err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return 0, "", nil, nil, fmt.Errorf("open window: %w", err)
	}
	return length, checksum, win, func() { os.Remove(tempPath) }, nil
}

func (e *Engine) splitOne(ctx context.Context, win *window.Window, file *metadata.File, seq int, chunkSize, fileSize int64, correlationID string) error {
	start := int64(seq) * chunkSize
	end := min64(start+chunkSize, fileSize)

	raw, err := win.ReadRange(start, end-start)
	if err != nil {
		return fmt.Errorf("chunkengine: read range for chunk %d: %w", seq, err)
	}

	sum := sha256.Sum256(raw)
	checksum := hex.EncodeToString(sum[:])

	payload := raw
	compressed := false
	if e.opts.CompressionEnabled {
		c, err := compress(raw, e.opts.CompressionLevel)
		if err != nil {
			return fmt.Errorf("chunkengine: compress chunk %d: %w", seq, err)
		}
		payload = c
		compressed = true
	}

	provider := e.providers.ForSequence(seq)
	if provider == nil {
		return fmt.Errorf("chunkengine: chunk %d: %w: no providers configured", seq, chunckerr.ErrBackendConfig)
	}

	chunkID := fmt.Sprintf("%s_%d", file.ID, seq)
	storagePath, err := provider.Put(ctx, chunkID, payload, correlationID)
	if err != nil {
		return fmt.Errorf("chunkengine: put chunk %d: %w", seq, err)
	}

	now := time.Now()
	rec := &metadata.Chunk{
		ID:                chunkID,
		FileID:            file.ID,
		Sequence:          seq,
		Size:              end - start,
		CompressedSize:    int64(len(payload)),
		Checksum:          checksum,
		IsCompressed:      compressed,
		StorageProviderID: provider.ProviderID(),
		StoragePath:       storagePath,
		Status:            "stored",
		CorrelationID:     correlationID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.chunks.Add(ctx, rec, correlationID); err != nil {
		return fmt.Errorf("chunkengine: record chunk %d: %w", seq, err)
	}

	if e.bus != nil {
		e.bus.Publish(ctx, eventbus.NewChunkStored(chunkID+"-stored", chunkID, file.ID, seq, rec.Size, rec.CompressedSize, checksum, provider.ProviderID(), correlationID, now))
	}
	return nil
}

// Merge reassembles fileID's chunks into sink, in sequence order.
func (e *Engine) Merge(ctx context.Context, fileID string, sink io.Writer, correlationID string) (bool, error) {
	timer := obs.NewTimer(ctx, "chunkengine", "merge")
	defer timer.Stop()

	chunks, err := e.loadChunksForMerge(ctx, fileID, correlationID)
	if err != nil {
		timer.Fail()
		return false, err
	}
	if len(chunks) == 0 {
		timer.Fail()
		return false, fmt.Errorf("chunkengine: merge %s: %w: no chunks found", fileID, chunckerr.ErrNotFound)
	}

	for _, c := range chunks {
		provider := e.providers.ByID(c.StorageProviderID)
		if provider == nil {
			timer.Fail()
			return false, fmt.Errorf("chunkengine: merge %s: chunk %s: %w: provider %s missing", fileID, c.ID, chunckerr.ErrBackendConfig, c.StorageProviderID)
		}
		raw, err := provider.Get(ctx, c.ID, c.StoragePath, correlationID)
		if err != nil {
			timer.Fail()
			return false, fmt.Errorf("chunkengine: merge %s: get chunk %s: %w", fileID, c.ID, err)
		}
		if c.IsCompressed {
			raw, err = decompress(raw)
			if err != nil {
				timer.Fail()
				return false, fmt.Errorf("chunkengine: merge %s: decompress chunk %s: %w", fileID, c.ID, err)
			}
		}
		if _, err := sink.Write(raw); err != nil {
			timer.Fail()
			return false, fmt.Errorf("chunkengine: merge %s: write chunk %s: %w", fileID, c.ID, err)
		}
	}
	return true, nil
}

// loadChunksForMerge loads chunks by fileId; if the indexed query returns
// nothing, it falls back to scanning all chunks (the "compatibility
// shim" named in spec §9's Ambiguity note) and flags any chunk only
// discoverable that way as Suspect.
func (e *Engine) loadChunksForMerge(ctx context.Context, fileID, correlationID string) ([]*metadata.Chunk, error) {
	chunks, err := e.chunks.ListByFile(ctx, fileID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("chunkengine: list chunks for %s: %w", fileID, err)
	}
	if len(chunks) > 0 {
		return chunks, nil
	}

	lister, ok := e.chunks.(allChunksLister)
	if !ok {
		return nil, nil
	}
	all, err := lister.ListAll(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("chunkengine: scan all chunks for %s: %w", fileID, err)
	}
	var out []*metadata.Chunk
	prefix := fileID + "_"
	for _, c := range all {
		if strings.HasPrefix(c.ID, prefix) {
			c.Suspect = true
			out = append(out, c)
		}
	}
	return out, nil
}

// allChunksLister is implemented by ChunkStore backends that can scan
// every chunk; used only by the merge compatibility fallback.
type allChunksLister interface {
	ListAll(ctx context.Context, correlationID string) ([]*metadata.Chunk, error)
}

// MergeAndVerify performs Merge, then if verify is set, rehashes the
// bytes written to sink between the sink's initial position and its
// position after merge, comparing against the File record's stored
// checksum (case-insensitive). It never mutates data.
func (e *Engine) MergeAndVerify(ctx context.Context, fileID string, sink io.WriteSeeker, correlationID string, verify bool) (bool, error) {
	p0, err := sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, fmt.Errorf("chunkengine: mergeAndVerify %s: seek: %w", fileID, err)
	}

	ok, err := e.Merge(ctx, fileID, sink, correlationID)
	if err != nil || !ok {
		return ok, err
	}
	if !verify {
		return true, nil
	}

	p1, err := sink.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, fmt.Errorf("chunkengine: mergeAndVerify %s: seek: %w", fileID, err)
	}
	if _, err := sink.Seek(p0, io.SeekStart); err != nil {
		return false, fmt.Errorf("chunkengine: mergeAndVerify %s: rewind: %w", fileID, err)
	}

	h := sha256.New()
	if _, err := io.CopyN(h, sinkAsReader(sink), p1-p0); err != nil {
		return false, fmt.Errorf("chunkengine: mergeAndVerify %s: rehash: %w", fileID, err)
	}
	recomputed := hex.EncodeToString(h.Sum(nil))

	file, err := e.files.Get(ctx, fileID, correlationID)
	if err != nil {
		return false, fmt.Errorf("chunkengine: mergeAndVerify %s: load file record: %w", fileID, err)
	}

	match := strings.EqualFold(recomputed, file.Checksum)
	if !match {
		obs.Logger(ctx).Warn("integrity mismatch",
			"fileId", fileID, "expected", file.Checksum, "actual", recomputed)
	}
	if _, err := sink.Seek(p1, io.SeekStart); err != nil {
		return match, fmt.Errorf("chunkengine: mergeAndVerify %s: restore position: %w", fileID, err)
	}
	return match, nil
}

func sinkAsReader(sink io.WriteSeeker) io.Reader {
	r, ok := sink.(io.Reader)
	if !ok {
		panic("chunkengine: sink must also implement io.Reader for verification")
	}
	return r
}

// Delete removes every chunk belonging to fileID (grouped by provider)
// and then its metadata. Delete is best-effort for the chunk bytes: the
// metadata cleanup always runs, but the return value reports whether
// every provider delete succeeded.
func (e *Engine) Delete(ctx context.Context, fileID, correlationID string) (bool, error) {
	if _, err := e.files.Get(ctx, fileID, correlationID); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("chunkengine: delete %s: load file record: %w", fileID, err)
	}

	chunks, err := e.chunks.ListByFile(ctx, fileID, correlationID)
	if err != nil {
		return false, fmt.Errorf("chunkengine: delete %s: list chunks: %w", fileID, err)
	}

	allOK := true
	for _, c := range chunks {
		provider := e.providers.ByID(c.StorageProviderID)
		if provider == nil {
			allOK = false
			continue
		}
		ok, err := provider.Delete(ctx, c.ID, c.StoragePath, correlationID)
		if err != nil || !ok {
			allOK = false
		}
	}

	if _, err := e.chunks.DeleteByFile(ctx, fileID, correlationID); err != nil {
		return false, fmt.Errorf("chunkengine: delete %s: delete chunk records: %w", fileID, err)
	}
	if err := e.files.Delete(ctx, fileID, correlationID); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return false, fmt.Errorf("chunkengine: delete %s: delete file record: %w", fileID, err)
	}
	return allOK, nil
}

// DeleteChunk removes a single chunk's bytes and metadata record.
func (e *Engine) DeleteChunk(ctx context.Context, chunkID, correlationID string) (bool, error) {
	c, err := e.chunks.Get(ctx, chunkID, correlationID)
	if err != nil {
		return false, fmt.Errorf("chunkengine: deleteChunk %s: %w", chunkID, err)
	}
	provider := e.providers.ByID(c.StorageProviderID)
	if provider == nil {
		return false, fmt.Errorf("chunkengine: deleteChunk %s: %w: provider %s missing", chunkID, chunckerr.ErrBackendConfig, c.StorageProviderID)
	}
	ok, err := provider.Delete(ctx, c.ID, c.StoragePath, correlationID)
	if err != nil {
		return false, fmt.Errorf("chunkengine: deleteChunk %s: %w", chunkID, err)
	}
	if !ok {
		return false, nil
	}
	if err := e.chunks.Delete(ctx, chunkID, correlationID); err != nil {
		return false, fmt.Errorf("chunkengine: deleteChunk %s: delete record: %w", chunkID, err)
	}
	return true, nil
}
