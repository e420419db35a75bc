package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

func init() {
	Register("azureblob", newAzureBlobProvider)
}

// azureBlobProvider is the second remote object storage backend,
// exercising the same uniform Provider contract as s3Provider over a
// different cloud SDK. Key layout mirrors the S3 provider's, per spec §6.
type azureBlobProvider struct {
	id            string
	client        *azblob.Client
	containerName string
	keyPrefix     string
}

func newAzureBlobProvider(id string, params map[string]string) (Provider, error) {
	connStr := params["connectionString"]
	container := params["container"]
	if connStr == "" || container == "" {
		return nil, fmt.Errorf("storage: azureblob provider %q requires connectionString and container", id)
	}
	prefix := params["keyPrefix"]
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: azureblob provider %q: client: %w", id, err)
	}

	if _, err := client.CreateContainer(context.Background(), container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil, fmt.Errorf("storage: azureblob provider %q: create container: %w", id, err)
		}
	}

	return &azureBlobProvider{id: id, client: client, containerName: container, keyPrefix: prefix}, nil
}

func (p *azureBlobProvider) ProviderID() string   { return p.id }
func (p *azureBlobProvider) ProviderType() string { return "azureblob" }
func (p *azureBlobProvider) Close() error         { return nil }

func (p *azureBlobProvider) keyFor(chunkID string) string {
	s := sanitizeChunkID(chunkID)
	prefix := s
	if len(prefix) >= 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("%s%s/%s.chunk", p.keyPrefix, prefix, s)
}

func (p *azureBlobProvider) resolve(chunkID, storagePath string) string {
	if storagePath != "" {
		return storagePath
	}
	return p.keyFor(chunkID)
}

func (p *azureBlobProvider) Put(ctx context.Context, chunkID string, data []byte, correlationID string) (string, error) {
	key := p.keyFor(chunkID)
	_, err := p.client.UploadBuffer(ctx, p.containerName, key, data, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"Chunkid":         to.Ptr(chunkID),
			"Correlationid":   to.Ptr(correlationID),
			"Uploadtimestamp": to.Ptr(time.Now().UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: azureblob put %s: %w", chunkID, err)
	}
	return key, nil
}

func (p *azureBlobProvider) Get(ctx context.Context, chunkID, storagePath, _ string) ([]byte, error) {
	key := p.resolve(chunkID, storagePath)
	out, err := p.client.DownloadStream(ctx, p.containerName, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("storage: azureblob get %s: not found", chunkID)
		}
		return nil, fmt.Errorf("storage: azureblob get %s: %w", chunkID, err)
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("storage: azureblob get %s: read body: %w", chunkID, err)
	}
	return buf.Bytes(), nil
}

func (p *azureBlobProvider) Exists(ctx context.Context, chunkID, storagePath, _ string) (bool, error) {
	key := p.resolve(chunkID, storagePath)
	containerClient := p.client.ServiceClient().NewContainerClient(p.containerName)
	_, err := containerClient.NewBlobClient(key).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, err
}

func (p *azureBlobProvider) Delete(ctx context.Context, chunkID, storagePath, _ string) (bool, error) {
	key := p.resolve(chunkID, storagePath)
	_, err := p.client.DeleteBlob(ctx, p.containerName, key, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("storage: azureblob delete %s: %w", chunkID, err)
}
