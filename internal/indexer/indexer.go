// Package indexer walks a local directory, recording per-entry File
// metadata and detecting duplicate content by checksum. It is the only
// component that mutates File records after the fact (tagging
// duplicates); every other mutation belongs to chunkengine/fileservice.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chuncker/internal/eventbus"
	"chuncker/internal/metadata"
	"chuncker/internal/obs"
)

// Options configures one Walk call.
type Options struct {
	Recursive      bool
	ProcessContent bool     // compute SHA-256 and set IsIndexed for File entries
	Parallel       bool     // bounded worker pool sized to runtime.NumCPU()
	CheckDuplicates bool    // run duplicate-by-checksum tagging after the walk
	IncludeGlobs   []string // doublestar patterns; empty means "include everything"
	ExcludeGlobs   []string
}

// Summary reports the outcome of one Walk call.
type Summary struct {
	FileCount      int
	DirectoryCount int
	TotalSize      int64
	ErrorCount     int
	ChunkCount     int
}

// Indexer walks directories and persists File records for their entries.
type Indexer struct {
	files metadata.FileStore
	bus   *eventbus.Bus
}

// New constructs an Indexer over the given File store.
func New(files metadata.FileStore, bus *eventbus.Bus) *Indexer {
	return &Indexer{files: files, bus: bus}
}

// Walk indexes root according to opts, publishing a FileDiscovered event
// per entry and one DirectoryScan event for the whole walk.
func (idx *Indexer) Walk(ctx context.Context, root string, opts Options, correlationID string) (*Summary, error) {
	timer := obs.NewTimer(ctx, "indexer", "walk")
	defer timer.Stop()
	logger := obs.Logger(ctx)
	start := time.Now()

	entries, err := idx.collect(root, opts)
	if err != nil {
		timer.Fail()
		return nil, fmt.Errorf("indexer: walk %s: %w", root, err)
	}

	summary := &Summary{}
	var mu sync.Mutex
	process := func(e walkEntry) error {
		file, werr := idx.processEntry(ctx, e, opts, correlationID)
		mu.Lock()
		defer mu.Unlock()
		if werr != nil {
			summary.ErrorCount++
			logger.Error("indexer: process entry failed", "path", e.path, "error", werr)
			return nil // isolate per-entry failures; the walk continues
		}
		if file.IsDirectory {
			summary.DirectoryCount++
		} else {
			summary.FileCount++
			summary.TotalSize += file.Size
		}
		return nil
	}

	if opts.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.NumCPU())
		for _, e := range entries {
			e := e
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return process(e)
			})
		}
		if err := g.Wait(); err != nil {
			timer.Fail()
			return nil, fmt.Errorf("indexer: walk %s: %w", root, err)
		}
	} else {
		for _, e := range entries {
			if err := process(e); err != nil {
				timer.Fail()
				return nil, err
			}
		}
	}

	if opts.CheckDuplicates {
		if err := idx.tagDuplicates(ctx, correlationID); err != nil {
			timer.Fail()
			return nil, fmt.Errorf("indexer: tag duplicates under %s: %w", root, err)
		}
	}

	if idx.bus != nil {
		idx.bus.Publish(ctx, eventbus.NewDirectoryScan(
			uuid.NewString(), root, summary.FileCount, summary.DirectoryCount,
			summary.TotalSize, opts.ProcessContent, opts.Recursive,
			time.Since(start).Milliseconds(), summary.ChunkCount, summary.ErrorCount,
			correlationID, time.Now(),
		))
	}
	return summary, nil
}

type walkEntry struct {
	path    string
	relPath string
	info    os.FileInfo
}

// collect gathers the filesystem entries to process, applying include/
// exclude glob filters against paths relative to root.
func (idx *Indexer) collect(root string, opts Options) ([]walkEntry, error) {
	var entries []walkEntry

	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if !matchesFilters(rel, opts.IncludeGlobs, opts.ExcludeGlobs) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, walkEntry{path: path, relPath: rel, info: info})
		return nil
	}

	if opts.Recursive {
		if err := filepath.WalkDir(root, walkFn); err != nil {
			return nil, err
		}
		return entries, nil
	}

	children, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	for _, d := range children {
		path := filepath.Join(root, d.Name())
		if !matchesFilters(d.Name(), opts.IncludeGlobs, opts.ExcludeGlobs) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			return nil, err
		}
		entries = append(entries, walkEntry{path: path, relPath: d.Name(), info: info})
	}
	return entries, nil
}

func matchesFilters(rel string, include, exclude []string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (idx *Indexer) processEntry(ctx context.Context, e walkEntry, opts Options, correlationID string) (*metadata.File, error) {
	start := time.Now()
	id := deterministicID(e.path)

	existing, err := idx.files.Get(ctx, id, correlationID)
	wasProcessed := false
	var file *metadata.File
	if err == nil {
		file = existing
	} else if errors.Is(err, metadata.ErrNotFound) {
		now := time.Now()
		file = &metadata.File{
			ID:            id,
			Name:          filepath.Base(e.path),
			FullPath:      e.path,
			Size:          e.info.Size(),
			IsDirectory:   e.info.IsDir(),
			Extension:     strings.ToLower(filepath.Ext(e.path)),
			ContentType:   guessContentType(e.path),
			Status:        metadata.FileStatusCompleted,
			CorrelationID: correlationID,
			CreatedAt:     now,
			UpdatedAt:     e.info.ModTime(),
		}
		if addErr := idx.files.Add(ctx, file, correlationID); addErr != nil {
			return nil, fmt.Errorf("add file record for %s: %w", e.path, addErr)
		}
	} else {
		return nil, fmt.Errorf("get file record for %s: %w", e.path, err)
	}

	if opts.ProcessContent && !file.IsDirectory && !file.IsIndexed {
		checksum, err := hashFile(e.path)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", e.path, err)
		}
		file.Checksum = checksum
		file.IsIndexed = true
		file.UpdatedAt = time.Now()
		if err := idx.files.Replace(ctx, file, correlationID); err != nil {
			return nil, fmt.Errorf("update file record for %s: %w", e.path, err)
		}
		wasProcessed = true
	}

	if idx.bus != nil {
		idx.bus.Publish(ctx, eventbus.NewFileDiscovered(
			uuid.NewString(), file.ID, e.path, file.Name, file.Size,
			file.Extension, file.ContentType, file.Checksum, wasProcessed,
			file.ChunkCount, string(file.Status), file.ParentID, file.Tags,
			time.Since(start).Milliseconds(), correlationID, time.Now(),
		))
	}
	return file, nil
}

// tagDuplicates groups every File record with a non-empty checksum and
// adds the "duplicate" tag to every member of a group with more than one
// entry. This is the only post-walk mutation the indexer performs.
func (idx *Indexer) tagDuplicates(ctx context.Context, correlationID string) error {
	all, err := idx.files.List(ctx, metadata.FileFilter{}, correlationID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	groups := make(map[string][]*metadata.File)
	for _, f := range all {
		if f.Checksum == "" {
			continue
		}
		groups[f.Checksum] = append(groups[f.Checksum], f)
	}

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		for _, f := range members {
			if hasTag(f.Tags, "duplicate") {
				continue
			}
			f.Tags = append(f.Tags, "duplicate")
			f.UpdatedAt = time.Now()
			if err := idx.files.Replace(ctx, f, correlationID); err != nil {
				return fmt.Errorf("tag duplicate %s: %w", f.ID, err)
			}
		}
	}
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func guessContentType(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// deterministicID derives a stable File id for a filesystem path so
// repeated walks of the same tree update the same record instead of
// creating duplicates.
func deterministicID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:16])
}
