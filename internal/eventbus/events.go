package eventbus

import "time"

type base struct {
	ID            string
	Type          string
	At            time.Time
	CorrelationID string
}

func (b base) EventID() string        { return b.ID }
func (b base) EventType() string      { return b.Type }
func (b base) OccurredAt() time.Time  { return b.At }
func (b base) Correlation() string    { return b.CorrelationID }

// ChunkStored is published once per chunk successfully written and
// recorded during a split.
type ChunkStored struct {
	base
	ChunkID        string
	FileID         string
	Sequence       int
	Size           int64
	CompressedSize int64
	Checksum       string
	ProviderID     string
}

// NewChunkStored constructs a ChunkStored event.
func NewChunkStored(id, chunkID, fileID string, sequence int, size, compressedSize int64, checksum, providerID, correlationID string, at time.Time) ChunkStored {
	return ChunkStored{
		base:           base{ID: id, Type: "ChunkStored", At: at, CorrelationID: correlationID},
		ChunkID:        chunkID,
		FileID:         fileID,
		Sequence:       sequence,
		Size:           size,
		CompressedSize: compressedSize,
		Checksum:       checksum,
		ProviderID:     providerID,
	}
}

// FileProcessed is published once a split completes and the File record
// transitions to Completed.
type FileProcessed struct {
	base
	FileID     string
	FileName   string
	FileSize   int64
	Checksum   string
	ChunkCount int
}

// NewFileProcessed constructs a FileProcessed event.
func NewFileProcessed(id, fileID, fileName string, fileSize int64, checksum string, chunkCount int, correlationID string, at time.Time) FileProcessed {
	return FileProcessed{
		base:       base{ID: id, Type: "FileProcessed", At: at, CorrelationID: correlationID},
		FileID:     fileID,
		FileName:   fileName,
		FileSize:   fileSize,
		Checksum:   checksum,
		ChunkCount: chunkCount,
	}
}

// DirectoryScan is published once a directory walk completes.
type DirectoryScan struct {
	base
	Path             string
	FileCount        int
	DirectoryCount   int
	TotalSize        int64
	ProcessedContent bool
	Recursive        bool
	ElapsedMs        int64
	ChunkCount       int
	ErrorCount       int
}

// NewDirectoryScan constructs a DirectoryScan event.
func NewDirectoryScan(id, path string, fileCount, directoryCount int, totalSize int64, processedContent, recursive bool, elapsedMs int64, chunkCount, errorCount int, correlationID string, at time.Time) DirectoryScan {
	return DirectoryScan{
		base:             base{ID: id, Type: "DirectoryScan", At: at, CorrelationID: correlationID},
		Path:             path,
		FileCount:        fileCount,
		DirectoryCount:   directoryCount,
		TotalSize:        totalSize,
		ProcessedContent: processedContent,
		Recursive:        recursive,
		ElapsedMs:        elapsedMs,
		ChunkCount:       chunkCount,
		ErrorCount:       errorCount,
	}
}

// FileDiscovered is published once per entry encountered during a
// directory walk.
type FileDiscovered struct {
	base
	FileID      string
	FilePath    string
	FileName    string
	FileSize    int64
	Extension   string
	ContentType string
	Checksum    string
	WasProcessed bool
	ChunkCount  int
	Status      string
	ParentID    string
	Tags        []string
	ElapsedMs   int64
}

// NewFileDiscovered constructs a FileDiscovered event.
func NewFileDiscovered(id, fileID, filePath, fileName string, fileSize int64, extension, contentType, checksum string, wasProcessed bool, chunkCount int, status, parentID string, tags []string, elapsedMs int64, correlationID string, at time.Time) FileDiscovered {
	return FileDiscovered{
		base:         base{ID: id, Type: "FileDiscovered", At: at, CorrelationID: correlationID},
		FileID:       fileID,
		FilePath:     filePath,
		FileName:     fileName,
		FileSize:     fileSize,
		Extension:    extension,
		ContentType:  contentType,
		Checksum:     checksum,
		WasProcessed: wasProcessed,
		ChunkCount:   chunkCount,
		Status:       status,
		ParentID:     parentID,
		Tags:         tags,
		ElapsedMs:    elapsedMs,
	}
}
