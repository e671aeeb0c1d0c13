package chunkuploader

import "math"

// End returns the offset one past the last byte of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + c.Length
}

// Split partitions a payload of size bytes into chunks of chunkSize bytes.
// Every chunk except the last one is exactly chunkSize long; the last one holds the remainder.
// An empty payload yields no chunks.
func Split(size, chunkSize int64) ([]Chunk, error) {
	return SplitRange(0, size, chunkSize)
}

// SplitRange partitions the bytes in [start, size) into chunks of chunkSize bytes.
// Chunk indices start at 0 regardless of start.
func SplitRange(start, size, chunkSize int64) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, newConfigurationError("chunk_size", "must be positive, got %d", chunkSize)
	}
	if start < 0 || start > size {
		return nil, newConfigurationError("offset", "%d is outside of the payload (size %d)", start, size)
	}

	remaining := size - start
	count := remaining / chunkSize
	if remaining%chunkSize != 0 {
		count++
	}
	if count > math.MaxUint32 {
		return nil, newConfigurationError("chunk_size", "%d bytes in %d byte chunks exceeds the chunk index range", remaining, chunkSize)
	}

	chunks := make([]Chunk, 0, count)
	for offset := start; offset < size; offset += chunkSize {
		length := chunkSize
		if size-offset < length {
			length = size - offset
		}
		chunks = append(chunks, Chunk{
			Index:  uint32(len(chunks)),
			Offset: offset,
			Length: length,
		})
	}
	return chunks, nil
}
