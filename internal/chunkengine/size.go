package chunkengine

// Sizing holds the adaptive chunk-size policy thresholds and bounds.
type Sizing struct {
	Min     int64
	Max     int64
	Default int64
}

// DefaultSizing returns the defaults named in spec §4.F/§6.
func DefaultSizing() Sizing {
	return Sizing{
		Min:     32 * 1024,
		Max:     4 * 1024 * 1024,
		Default: 1024 * 1024,
	}
}

// OptimalChunkSize implements the adaptive chunk-size table from spec
// §4.F. It is a pure function: same input, same output.
func (s Sizing) OptimalChunkSize(fileSize int64) int64 {
	switch {
	case fileSize == 0:
		return s.Default
	case fileSize <= s.Min:
		return s.Min
	case fileSize < 1*MiB:
		return max64(s.Min, fileSize)
	case fileSize < 10*MiB:
		return max64(s.Min, min64(1*MiB, s.Default))
	case fileSize < 100*MiB:
		return max64(2*MiB, min64(s.Default, fileSize/10))
	case fileSize < 1*GiB:
		return min64(5*MiB, s.Max)
	case fileSize < 10*GiB:
		return min64(10*MiB, s.Max)
	default:
		return s.Max
	}
}

const (
	MiB = 1 << 20
	GiB = 1 << 30
)

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
