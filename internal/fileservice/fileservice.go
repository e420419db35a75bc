// Package fileservice is a thin orchestration layer composing the chunk
// engine, metadata store, and cache behind the upload/download/delete/
// verify façade named in spec §4.G. It adds no algorithm of its own: it
// sequences calls to chunkengine.Engine and keeps the cache coherent.
package fileservice

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"chuncker/internal/cache"
	"chuncker/internal/chunckerr"
	"chuncker/internal/chunkengine"
	"chuncker/internal/eventbus"
	"chuncker/internal/metadata"
	"chuncker/internal/obs"
)

func fileKey(id string) string   { return "file:" + id }
func verifyKey(id string) string { return "verify:" + id }

// Service composes chunkengine.Engine with the metadata store and cache.
type Service struct {
	engine *chunkengine.Engine
	files  metadata.FileStore
	chunks metadata.ChunkStore
	cache  *cache.Cache
	bus    *eventbus.Bus
}

// New constructs a Service. cache may be nil, in which case every
// operation falls through to the metadata store directly.
func New(engine *chunkengine.Engine, files metadata.FileStore, chunks metadata.ChunkStore, c *cache.Cache, bus *eventbus.Bus) *Service {
	return &Service{engine: engine, files: files, chunks: chunks, cache: c, bus: bus}
}

// Upload runs the source through the chunk engine's Split (which computes
// the whole-file SHA-256) and caches the resulting File record.
func (s *Service) Upload(ctx context.Context, source io.Reader, fileID, fileName, correlationID string) (*metadata.File, error) {
	timer := obs.NewTimer(ctx, "fileservice", "upload")
	defer timer.Stop()

	// Split performs its own streaming SHA-256 pass; buffering here would
	// duplicate work, so the source is handed straight through.
	file, err := s.engine.Split(ctx, source, fileID, fileName, correlationID)
	if err != nil {
		timer.Fail()
		return nil, fmt.Errorf("fileservice: upload %s: %w", fileID, err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, fileKey(file.ID), file)
	}
	return file, nil
}

// Download fetches the File record (cache first), refuses unless the
// record is Completed, and merges the file's chunks into sink.
func (s *Service) Download(ctx context.Context, fileID string, sink io.Writer, correlationID string) error {
	timer := obs.NewTimer(ctx, "fileservice", "download")
	defer timer.Stop()

	file, err := s.getFile(ctx, fileID, correlationID)
	if err != nil {
		timer.Fail()
		return fmt.Errorf("fileservice: download %s: %w", fileID, err)
	}
	if file.Status != metadata.FileStatusCompleted {
		timer.Fail()
		return fmt.Errorf("fileservice: download %s: %w: status is %s, not completed", fileID, chunckerr.ErrInvariant, file.Status)
	}

	ok, err := s.engine.Merge(ctx, fileID, sink, correlationID)
	if err != nil {
		timer.Fail()
		return fmt.Errorf("fileservice: download %s: %w", fileID, err)
	}
	if !ok {
		timer.Fail()
		return fmt.Errorf("fileservice: download %s: merge reported failure", fileID)
	}
	return nil
}

// Delete removes the file's chunks and metadata and invalidates every
// cache entry that embeds the file record.
func (s *Service) Delete(ctx context.Context, fileID, correlationID string) (bool, error) {
	timer := obs.NewTimer(ctx, "fileservice", "delete")
	defer timer.Stop()

	ok, err := s.engine.Delete(ctx, fileID, correlationID)
	if err != nil {
		timer.Fail()
		return false, fmt.Errorf("fileservice: delete %s: %w", fileID, err)
	}
	if s.cache != nil {
		s.cache.Delete(ctx, fileKey(fileID))
		s.cache.Delete(ctx, verifyKey(fileID))
	}
	if !ok {
		timer.Fail()
	}
	return ok, nil
}

// Verify short-circuits on a cached verdict; otherwise it merges the
// file into an in-memory sink, rehashes, compares against the stored
// checksum, and caches the verdict.
func (s *Service) Verify(ctx context.Context, fileID, correlationID string) (bool, error) {
	timer := obs.NewTimer(ctx, "fileservice", "verify")
	defer timer.Stop()

	if s.cache != nil {
		var cached bool
		if hit, _ := s.cache.Get(ctx, verifyKey(fileID), &cached); hit {
			return cached, nil
		}
	}

	file, err := s.getFile(ctx, fileID, correlationID)
	if err != nil {
		timer.Fail()
		return false, fmt.Errorf("fileservice: verify %s: %w", fileID, err)
	}

	sink := &bytes.Buffer{}
	ok, err := s.engine.Merge(ctx, fileID, sink, correlationID)
	if err != nil {
		timer.Fail()
		return false, fmt.Errorf("fileservice: verify %s: %w", fileID, err)
	}
	if !ok {
		timer.Fail()
		return false, nil
	}

	sum := sha256.Sum256(sink.Bytes())
	match := strings.EqualFold(hex.EncodeToString(sum[:]), file.Checksum)

	if s.cache != nil {
		_ = s.cache.Set(ctx, verifyKey(fileID), match)
	}
	return match, nil
}

func (s *Service) getFile(ctx context.Context, fileID, correlationID string) (*metadata.File, error) {
	if s.cache != nil {
		var cached metadata.File
		if hit, _ := s.cache.Get(ctx, fileKey(fileID), &cached); hit {
			return &cached, nil
		}
	}
	file, err := s.files.Get(ctx, fileID, correlationID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, fileKey(fileID), file)
	}
	return file, nil
}
