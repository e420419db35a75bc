package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("gridfs", newGridFSProvider)
}

// gridfsProvider stores chunk bytes in a MongoDB GridFS bucket, the
// "GridFS-style bucket" object-store backend named in spec §1/§4.A.
// storagePath is the opaque GridFS file id returned by Put, hex-encoded.
type gridfsProvider struct {
	id     string
	client *mongo.Client
	bucket *gridfs.Bucket
}

func newGridFSProvider(id string, params map[string]string) (Provider, error) {
	uri := params["connectionString"]
	database := params["database"]
	bucketName := params["bucket"]
	if uri == "" || database == "" {
		return nil, fmt.Errorf("storage: gridfs provider %q requires connectionString and database", id)
	}
	if bucketName == "" {
		bucketName = "chunks"
	}

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storage: gridfs provider %q: connect: %w", id, err)
	}

	bucket, err := gridfs.NewBucket(client.Database(database), options.GridFSBucket().SetName(bucketName))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: gridfs provider %q: open bucket: %w", id, err)
	}

	return &gridfsProvider{id: id, client: client, bucket: bucket}, nil
}

func (p *gridfsProvider) ProviderID() string   { return p.id }
func (p *gridfsProvider) ProviderType() string { return "gridfs" }

func (p *gridfsProvider) Close() error {
	return p.client.Disconnect(context.Background())
}

func (p *gridfsProvider) Put(ctx context.Context, chunkID string, data []byte, correlationID string) (string, error) {
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"chunkId":       chunkID,
		"correlationId": correlationID,
	})
	objID, err := p.bucket.UploadFromStream(ctx, chunkID, bytes.NewReader(data), uploadOpts)
	if err != nil {
		return "", fmt.Errorf("storage: gridfs put %s: %w", chunkID, err)
	}
	return objID.Hex(), nil
}

func (p *gridfsProvider) Get(ctx context.Context, chunkID, storagePath, _ string) ([]byte, error) {
	objID, err := objectIDFromHex(storagePath)
	if err != nil {
		return nil, fmt.Errorf("storage: gridfs get %s: %w", chunkID, err)
	}
	var buf bytes.Buffer
	if _, err := p.bucket.DownloadToStream(ctx, objID, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, fmt.Errorf("storage: gridfs get %s: file not found", chunkID)
		}
		return nil, fmt.Errorf("storage: gridfs get %s: %w", chunkID, err)
	}
	return buf.Bytes(), nil
}

func (p *gridfsProvider) Exists(ctx context.Context, chunkID, storagePath, _ string) (bool, error) {
	objID, err := objectIDFromHex(storagePath)
	if err != nil {
		return false, nil
	}
	var w io.Writer = io.Discard
	if _, err := p.bucket.DownloadToStream(ctx, objID, w); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *gridfsProvider) Delete(ctx context.Context, chunkID, storagePath, _ string) (bool, error) {
	objID, err := objectIDFromHex(storagePath)
	if err != nil {
		return false, nil
	}
	if err := p.bucket.Delete(ctx, objID); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("storage: gridfs delete %s: %w", chunkID, err)
	}
	return true, nil
}

func objectIDFromHex(hex string) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(hex)
}
