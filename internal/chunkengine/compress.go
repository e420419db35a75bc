package chunkengine

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// gzipLevel maps the 1-9 CompressionLevel setting to a three-way choice
// per spec §4.F: <=3 -> Fastest, >=8 -> SmallestSize, else Balanced.
func gzipLevel(setting int) int {
	switch {
	case setting <= 3:
		return gzip.BestSpeed
	case setting >= 8:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

// compress gzips data at the level mapped from setting. The returned
// size, recorded as the chunk's CompressedSize, carries the compression
// choice implicitly.
func compress(data []byte, setting int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzipLevel(setting))
	if err != nil {
		return nil, fmt.Errorf("chunkengine: new gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("chunkengine: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("chunkengine: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress gunzips data.
func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("chunkengine: new gzip reader: %w", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("chunkengine: gzip read: %w", err)
	}
	return buf.Bytes(), nil
}
