package fileservice

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chuncker/internal/cache"
	"chuncker/internal/chunkengine"
	"chuncker/internal/metadata"
	"chuncker/internal/storage"
)

type memProvider struct {
	id   string
	mu   sync.Mutex
	data map[string][]byte
}

func newMemProvider(id string) *memProvider {
	return &memProvider{id: id, data: make(map[string][]byte)}
}

func (p *memProvider) ProviderID() string   { return p.id }
func (p *memProvider) ProviderType() string { return "mem" }
func (p *memProvider) Close() error         { return nil }

func (p *memProvider) Put(_ context.Context, chunkID string, data []byte, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]byte(nil), data...)
	p.data[chunkID] = cp
	return chunkID, nil
}

func (p *memProvider) Get(_ context.Context, chunkID, _, _ string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data[chunkID], nil
}

func (p *memProvider) Exists(_ context.Context, chunkID, _, _ string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.data[chunkID]
	return ok, nil
}

func (p *memProvider) Delete(_ context.Context, chunkID, _, _ string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[chunkID]; !ok {
		return false, nil
	}
	delete(p.data, chunkID)
	return true, nil
}

func newService(t *testing.T) (*Service, *cache.Cache) {
	t.Helper()
	store := metadata.NewMemoryStore()
	providers := storage.NewSet(newMemProvider("p0"))
	engine := chunkengine.New(chunkengine.DefaultOptions(), providers, store.Files(), store.Chunks(), nil)
	c, err := cache.New(cache.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return New(engine, store.Files(), store.Chunks(), c, nil), c
}

func TestService_UploadDownloadRoundTrip(t *testing.T) {
	svc, c := newService(t)
	ctx := context.Background()

	payload := []byte("hello\n")
	file, err := svc.Upload(ctx, bytes.NewReader(payload), "f1", "hello.txt", "corr-1")
	require.NoError(t, err)
	require.Equal(t, metadata.FileStatusCompleted, file.Status)
	c.Wait()

	var out bytes.Buffer
	require.NoError(t, svc.Download(ctx, "f1", &out, "corr-1"))
	require.Equal(t, payload, out.Bytes())
}

func TestService_DownloadRefusesIncompleteFile(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	f := &metadata.File{ID: "f2", Status: metadata.FileStatusProcessing}
	require.NoError(t, svc.files.Add(ctx, f, "corr-1"))

	var out bytes.Buffer
	err := svc.Download(ctx, "f2", &out, "corr-1")
	require.Error(t, err)
}

func TestService_VerifyCachesVerdict(t *testing.T) {
	svc, c := newService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, bytes.NewReader([]byte("abc")), "f3", "a.bin", "corr-1")
	require.NoError(t, err)
	c.Wait()

	ok, err := svc.Verify(ctx, "f3", "corr-1")
	require.NoError(t, err)
	require.True(t, ok)
	c.Wait()

	var cached bool
	hit, _ := c.Get(ctx, verifyKey("f3"), &cached)
	require.True(t, hit)
	require.True(t, cached)
}

func TestService_DeleteInvalidatesCache(t *testing.T) {
	svc, c := newService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, bytes.NewReader([]byte("xyz")), "f4", "x.bin", "corr-1")
	require.NoError(t, err)
	c.Wait()

	var cached metadata.File
	hit, _ := c.Get(ctx, fileKey("f4"), &cached)
	require.True(t, hit)

	ok, err := svc.Delete(ctx, "f4", "corr-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		var out metadata.File
		hit, _ := c.Get(ctx, fileKey("f4"), &out)
		return !hit
	}, time.Second, 5*time.Millisecond)

	_, err = svc.files.Get(ctx, "f4", "corr-1")
	require.ErrorIs(t, err, metadata.ErrNotFound)
}
