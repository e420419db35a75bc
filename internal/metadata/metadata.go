// Package metadata implements the two persisted document collections
// (Files, Chunks) plus an optional TTL-indexed Logs collection. Stores
// are narrow, per-entity interfaces rather than one generic repository:
// the engine depends only on the entity-specific methods it actually
// calls.
package metadata

import "time"

// FileStatus is the lifecycle state of a File record.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
	FileStatusFailed     FileStatus = "failed"
)

// File is the persisted metadata record for one logical file.
type File struct {
	ID            string     `bson:"_id" json:"id"`
	Name          string     `bson:"name" json:"name"`
	FullPath      string     `bson:"fullPath,omitempty" json:"fullPath,omitempty"`
	Size          int64      `bson:"size" json:"size"`
	ContentType   string     `bson:"contentType,omitempty" json:"contentType,omitempty"`
	Extension     string     `bson:"extension,omitempty" json:"extension,omitempty"`
	Checksum      string     `bson:"checksum" json:"checksum"`
	ChunkCount    int        `bson:"chunkCount" json:"chunkCount"`
	Status        FileStatus `bson:"status" json:"status"`
	CorrelationID string     `bson:"correlationId" json:"correlationId"`
	ParentID      string     `bson:"parentId,omitempty" json:"parentId,omitempty"`
	IsDirectory   bool       `bson:"isDirectory" json:"isDirectory"`
	IsIndexed     bool       `bson:"isIndexed" json:"isIndexed"`
	Tags          []string   `bson:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// Chunk is the persisted metadata record for one chunk of a file.
// Suspect is a diagnostic signal only (never persisted): it is set when a
// chunk was discoverable only via merge's compatibility fallback scan,
// per the "Ambiguity" design note.
type Chunk struct {
	ID                string    `bson:"_id" json:"id"` // "<fileId>_<sequence>"
	FileID            string    `bson:"fileId" json:"fileId"`
	Sequence          int       `bson:"sequence" json:"sequence"`
	Size              int64     `bson:"size" json:"size"`
	CompressedSize    int64     `bson:"compressedSize" json:"compressedSize"`
	Checksum          string    `bson:"checksum" json:"checksum"`
	IsCompressed      bool      `bson:"isCompressed" json:"isCompressed"`
	StorageProviderID string    `bson:"storageProviderId" json:"storageProviderId"`
	StoragePath       string    `bson:"storagePath" json:"storagePath"`
	Status            string    `bson:"status" json:"status"`
	CorrelationID     string    `bson:"correlationId" json:"correlationId"`
	CreatedAt         time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt" json:"updatedAt"`

	Suspect bool `bson:"-" json:"-"`
}

// LogRecord is one entry in the optional Logs collection, TTL-expired
// after the configured horizon.
type LogRecord struct {
	ID            string    `bson:"_id" json:"id"`
	CorrelationID string    `bson:"correlationId" json:"correlationId"`
	Level         string    `bson:"level" json:"level"`
	Message       string    `bson:"message" json:"message"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
}

// FileFilter narrows a File listing. Zero-value fields are unconstrained.
type FileFilter struct {
	ParentID    string
	Type        string // "file" | "directory"
	Checksum    string
	FullPath    string
}
