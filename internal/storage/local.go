package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

func init() {
	Register("local", newLocalProvider)
}

// localProvider stores each chunk as a single file under
// <basePath>/<prefix>/<chunkId>.chunk, where prefix is the first two
// characters of chunkId (or the first two hex characters of
// MD5(chunkId) when chunkId is shorter than two characters).
type localProvider struct {
	id       string
	basePath string
}

func newLocalProvider(id string, params map[string]string) (Provider, error) {
	base := params["basePath"]
	if base == "" {
		return nil, fmt.Errorf("storage: local provider %q requires basePath", id)
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("storage: local provider %q: create base path: %w", id, err)
	}
	return &localProvider{id: id, basePath: base}, nil
}

func (p *localProvider) ProviderID() string   { return p.id }
func (p *localProvider) ProviderType() string { return "local" }
func (p *localProvider) Close() error         { return nil }

func localPrefix(chunkID string) string {
	if len(chunkID) >= 2 {
		return chunkID[:2]
	}
	sum := md5.Sum([]byte(chunkID))
	return hex.EncodeToString(sum[:])[:2]
}

func (p *localProvider) pathFor(chunkID string) string {
	return filepath.Join(p.basePath, localPrefix(chunkID), chunkID+".chunk")
}

func (p *localProvider) Put(_ context.Context, chunkID string, data []byte, _ string) (string, error) {
	dest := p.pathFor(chunkID)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("storage: local put %s: mkdir: %w", chunkID, err)
	}

	// Write to a temp file in the same directory, then rename, so a
	// reader never observes a partially written chunk.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: local put %s: create temp: %w", chunkID, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: local put %s: write: %w", chunkID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: local put %s: sync: %w", chunkID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: local put %s: close: %w", chunkID, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: local put %s: rename: %w", chunkID, err)
	}
	return dest, nil
}

func (p *localProvider) resolve(chunkID, storagePath string) string {
	if storagePath != "" {
		return storagePath
	}
	return p.pathFor(chunkID)
}

func (p *localProvider) Get(_ context.Context, chunkID, storagePath, _ string) ([]byte, error) {
	data, err := os.ReadFile(p.resolve(chunkID, storagePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: local get %s: %w", chunkID, os.ErrNotExist)
		}
		return nil, fmt.Errorf("storage: local get %s: %w", chunkID, err)
	}
	return data, nil
}

func (p *localProvider) Exists(_ context.Context, chunkID, storagePath, _ string) (bool, error) {
	_, err := os.Stat(p.resolve(chunkID, storagePath))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (p *localProvider) Delete(_ context.Context, chunkID, storagePath, _ string) (bool, error) {
	err := os.Remove(p.resolve(chunkID, storagePath))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
