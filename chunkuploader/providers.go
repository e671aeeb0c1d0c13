package chunkuploader

import (
	"fmt"
	"io"
	"os"
)

// FileChunkProvider reads chunk ranges from a file on disk.
// Safe for parallel reads: every range is read through its own section reader.
type FileChunkProvider struct {
	file *os.File
	size int64
}

// NewFileChunkProvider opens path for ranged reads. A missing or unreadable file is a ConfigurationError.
func NewFileChunkProvider(path string) (*FileChunkProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Field: "file", Reason: err.Error()}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &ConfigurationError{Field: "file", Reason: err.Error()}
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, newConfigurationError("file", "%s is a directory", path)
	}

	return &FileChunkProvider{
		file: file,
		size: info.Size(),
	}, nil
}

// Size returns the file size captured when the file was opened.
func (p *FileChunkProvider) Size() int64 {
	return p.size
}

// ReadRange reads exactly length bytes starting at offset.
func (p *FileChunkProvider) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > p.size {
		return nil, &IOError{Offset: offset, Length: length, Err: fmt.Errorf("range exceeds file size %d", p.size)}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(p.file, offset, length), data); err != nil {
		return nil, &IOError{Offset: offset, Length: length, Err: err}
	}
	return data, nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ByteSliceChunkProvider serves ranges of an in-memory payload.
type ByteSliceChunkProvider struct {
	data []byte
}

// NewByteSliceChunkProvider creates a ChunkProvider over data. The slice must not be modified during an upload.
func NewByteSliceChunkProvider(data []byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{data: data}
}

func (p *ByteSliceChunkProvider) Size() int64 {
	return int64(len(p.data))
}

func (p *ByteSliceChunkProvider) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(p.data)) {
		return nil, &IOError{Offset: offset, Length: length, Err: fmt.Errorf("range out of bounds [0, %d)", len(p.data))}
	}

	chunk := make([]byte, length)
	copy(chunk, p.data[offset:offset+length])
	return chunk, nil
}
