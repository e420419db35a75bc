package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrAlreadyExists is returned by Add when a record with the same id
// already exists.
var ErrAlreadyExists = errors.New("metadata: record already exists")

// ErrNotFound is returned by Get/Replace/Delete when the record is
// absent. Replace is reject-if-missing: there is no upsert.
var ErrNotFound = errors.New("metadata: record not found")

// MongoStore backs FileStore, ChunkStore, and LogStore with MongoDB
// collections via go.mongodb.org/mongo-driver.
type MongoStore struct {
	client *mongo.Client
	files  *mongo.Collection
	chunks *mongo.Collection
	logs   *mongo.Collection
}

// Config names the database and collections to use.
type Config struct {
	ConnectionString string
	Database         string
	FilesCollection  string
	ChunksCollection string
	LogsCollection   string
	LogsTTL          time.Duration
}

// NewMongoStore connects to MongoDB and ensures the secondary indexes
// named in spec §4.B exist.
func NewMongoStore(ctx context.Context, cfg Config) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("metadata: connect: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &MongoStore{
		client: client,
		files:  db.Collection(cfg.FilesCollection),
		chunks: db.Collection(cfg.ChunksCollection),
		logs:   db.Collection(cfg.LogsCollection),
	}
	if err := s.ensureIndexes(ctx, cfg.LogsTTL); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context, logsTTL time.Duration) error {
	fileIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fullPath", Value: 1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}}},
		{Keys: bson.D{{Key: "contentType", Value: 1}}},
		{Keys: bson.D{{Key: "checksum", Value: 1}}},
	}
	if _, err := s.files.Indexes().CreateMany(ctx, fileIndexes); err != nil {
		return fmt.Errorf("metadata: create file indexes: %w", err)
	}

	chunkIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fileId", Value: 1}, {Key: "sequence", Value: 1}}},
		{Keys: bson.D{{Key: "storageProviderId", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}
	if _, err := s.chunks.Indexes().CreateMany(ctx, chunkIndexes); err != nil {
		return fmt.Errorf("metadata: create chunk indexes: %w", err)
	}

	if logsTTL > 0 {
		logIndexes := []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "createdAt", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(int32(logsTTL.Seconds())),
			},
			{Keys: bson.D{{Key: "correlationId", Value: 1}}},
		}
		if _, err := s.logs.Indexes().CreateMany(ctx, logIndexes); err != nil {
			return fmt.Errorf("metadata: create log indexes: %w", err)
		}
	}
	return nil
}

// Close disconnects the underlying Mongo client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Files returns the FileStore view of this MongoStore.
func (s *MongoStore) Files() FileStore { return (*mongoFileStore)(s) }

// Chunks returns the ChunkStore view of this MongoStore.
func (s *MongoStore) Chunks() ChunkStore { return (*mongoChunkStore)(s) }

// Logs returns the LogStore view of this MongoStore.
func (s *MongoStore) Logs() LogStore { return (*mongoLogStore)(s) }

type mongoFileStore MongoStore

func (s *mongoFileStore) Get(ctx context.Context, id, _ string) (*File, error) {
	var f File
	if err := s.files.FindOne(ctx, bson.M{"_id": id}).Decode(&f); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("metadata: get file %s: %w", id, err)
	}
	return &f, nil
}

func (s *mongoFileStore) List(ctx context.Context, filter FileFilter, _ string) ([]*File, error) {
	q := bson.M{}
	if filter.ParentID != "" {
		q["parentId"] = filter.ParentID
	}
	if filter.Type == "directory" {
		q["isDirectory"] = true
	} else if filter.Type == "file" {
		q["isDirectory"] = false
	}
	if filter.Checksum != "" {
		q["checksum"] = filter.Checksum
	}
	if filter.FullPath != "" {
		q["fullPath"] = filter.FullPath
	}
	cur, err := s.files.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("metadata: list files: %w", err)
	}
	defer cur.Close(ctx)
	var out []*File
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("metadata: list files: decode: %w", err)
	}
	return out, nil
}

func (s *mongoFileStore) Add(ctx context.Context, f *File, _ string) error {
	if _, err := s.files.InsertOne(ctx, f); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("metadata: add file %s: %w", f.ID, err)
	}
	return nil
}

func (s *mongoFileStore) Replace(ctx context.Context, f *File, _ string) error {
	res, err := s.files.ReplaceOne(ctx, bson.M{"_id": f.ID}, f)
	if err != nil {
		return fmt.Errorf("metadata: replace file %s: %w", f.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoFileStore) Delete(ctx context.Context, id, _ string) error {
	res, err := s.files.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("metadata: delete file %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoChunkStore MongoStore

func (s *mongoChunkStore) Get(ctx context.Context, id, _ string) (*Chunk, error) {
	var c Chunk
	if err := s.chunks.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("metadata: get chunk %s: %w", id, err)
	}
	return &c, nil
}

func (s *mongoChunkStore) Add(ctx context.Context, c *Chunk, _ string) error {
	if _, err := s.chunks.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("metadata: add chunk %s: %w", c.ID, err)
	}
	return nil
}

func (s *mongoChunkStore) Replace(ctx context.Context, c *Chunk, _ string) error {
	res, err := s.chunks.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return fmt.Errorf("metadata: replace chunk %s: %w", c.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoChunkStore) Delete(ctx context.Context, id, _ string) error {
	res, err := s.chunks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("metadata: delete chunk %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoChunkStore) ListByFile(ctx context.Context, fileID, _ string) ([]*Chunk, error) {
	cur, err := s.chunks.Find(ctx, bson.M{"fileId": fileID}, options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("metadata: list chunks for %s: %w", fileID, err)
	}
	defer cur.Close(ctx)
	var out []*Chunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("metadata: list chunks for %s: decode: %w", fileID, err)
	}
	return out, nil
}

// ListAll returns every chunk document in the collection, unfiltered. It
// backs chunkengine's merge compatibility shim: a full collection scan,
// used only when the fileId-indexed query returns nothing.
func (s *mongoChunkStore) ListAll(ctx context.Context, _ string) ([]*Chunk, error) {
	cur, err := s.chunks.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("metadata: list all chunks: %w", err)
	}
	defer cur.Close(ctx)
	var out []*Chunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("metadata: list all chunks: decode: %w", err)
	}
	return out, nil
}

func (s *mongoChunkStore) DeleteByFile(ctx context.Context, fileID, _ string) (int64, error) {
	res, err := s.chunks.DeleteMany(ctx, bson.M{"fileId": fileID})
	if err != nil {
		return 0, fmt.Errorf("metadata: delete chunks for %s: %w", fileID, err)
	}
	return res.DeletedCount, nil
}

type mongoLogStore MongoStore

func (s *mongoLogStore) Add(ctx context.Context, rec *LogRecord) error {
	_, err := s.logs.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("metadata: add log: %w", err)
	}
	return nil
}

func (s *mongoLogStore) ListByCorrelation(ctx context.Context, correlationID string) ([]*LogRecord, error) {
	cur, err := s.logs.Find(ctx, bson.M{"correlationId": correlationID})
	if err != nil {
		return nil, fmt.Errorf("metadata: list logs for %s: %w", correlationID, err)
	}
	defer cur.Close(ctx)
	var out []*LogRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("metadata: list logs for %s: decode: %w", correlationID, err)
	}
	return out, nil
}
