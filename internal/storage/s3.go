package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
)

func init() {
	Register("s3", newS3Provider)
}

// s3Provider is a remote object storage backend over S3 or an
// S3-compatible endpoint. Keys are
// <keyPrefix><first two chars of sanitized chunkId>/<sanitized chunkId>.chunk,
// where sanitization replaces "/" and "\" with "_", per spec §6.
type s3Provider struct {
	id        string
	client    *s3.Client
	bucket    string
	keyPrefix string
	sse       bool
}

func newS3Provider(id string, params map[string]string) (Provider, error) {
	bucket := params["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("storage: s3 provider %q requires bucket", id)
	}
	prefix := params["keyPrefix"]
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	ctx := context.Background()
	var optFns []func(*awsconfig.LoadOptions) error
	if region := params["region"]; region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	if accessKey, secretKey := params["accessKeyId"], params["secretAccessKey"]; accessKey != "" && secretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, params["sessionToken"]),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("storage: s3 provider %q: load config: %w", id, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := params["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Provider{
		id:        id,
		client:    client,
		bucket:    bucket,
		keyPrefix: prefix,
		sse:       params["serverSideEncryption"] == "true",
	}, nil
}

func (p *s3Provider) ProviderID() string   { return p.id }
func (p *s3Provider) ProviderType() string { return "s3" }
func (p *s3Provider) Close() error         { return nil }

func sanitizeChunkID(chunkID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_")
	return r.Replace(chunkID)
}

func (p *s3Provider) keyFor(chunkID string) string {
	s := sanitizeChunkID(chunkID)
	prefix := s
	if len(prefix) >= 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("%s%s/%s.chunk", p.keyPrefix, prefix, s)
}

func (p *s3Provider) Put(ctx context.Context, chunkID string, data []byte, correlationID string) (string, error) {
	key := p.keyFor(chunkID)
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"ChunkId":         chunkID,
			"CorrelationId":   correlationID,
			"UploadTimestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if p.sse {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: s3 put %s: %w", chunkID, err)
	}
	return key, nil
}

func (p *s3Provider) resolve(chunkID, storagePath string) string {
	if storagePath != "" {
		return storagePath
	}
	return p.keyFor(chunkID)
}

func (p *s3Provider) Get(ctx context.Context, chunkID, storagePath, _ string) ([]byte, error) {
	key := p.resolve(chunkID, storagePath)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("storage: s3 get %s: not found", chunkID)
		}
		return nil, fmt.Errorf("storage: s3 get %s: %w", chunkID, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: s3 get %s: read body: %w", chunkID, err)
	}
	return data, nil
}

func (p *s3Provider) Exists(ctx context.Context, chunkID, storagePath, _ string) (bool, error) {
	key := p.resolve(chunkID, storagePath)
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

func (p *s3Provider) Delete(ctx context.Context, chunkID, storagePath, _ string) (bool, error) {
	key := p.resolve(chunkID, storagePath)
	existed, err := p.Exists(ctx, chunkID, key, "")
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, fmt.Errorf("storage: s3 delete %s: %w", chunkID, err)
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}
	return false
}
