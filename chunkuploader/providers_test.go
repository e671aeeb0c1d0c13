package chunkuploader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChunkProvider(t *testing.T) {
	payload := testPayload(1000)
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, payload, 0600))

	provider, err := NewFileChunkProvider(path)
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	assert.Equal(t, int64(1000), provider.Size())

	chunks, err := Split(provider.Size(), 64)
	require.NoError(t, err)

	parts := make([][]byte, len(chunks))
	var wg sync.WaitGroup
	for _, c := range chunks {
		wg.Add(1)
		go func(c Chunk) {
			defer wg.Done()
			data, err := provider.ReadRange(c.Offset, c.Length)
			assert.NoError(t, err)
			parts[c.Index] = data
		}(c)
	}
	wg.Wait()

	var joined []byte
	for _, part := range parts {
		joined = append(joined, part...)
	}
	assert.Equal(t, payload, joined)
}

func TestFileChunkProvider_Errors(t *testing.T) {
	var configErr *ConfigurationError
	_, err := NewFileChunkProvider(filepath.Join(t.TempDir(), "missing.bin"))
	require.ErrorAs(t, err, &configErr)

	_, err = NewFileChunkProvider(t.TempDir())
	require.ErrorAs(t, err, &configErr)

	path := filepath.Join(t.TempDir(), "small.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0600))
	provider, err := NewFileChunkProvider(path)
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	var ioErr *IOError
	_, err = provider.ReadRange(2, 5)
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, int64(2), ioErr.Offset)
}

func TestByteSliceChunkProvider(t *testing.T) {
	provider := NewByteSliceChunkProvider([]byte("hello world"))
	assert.Equal(t, int64(11), provider.Size())

	data, err := provider.ReadRange(6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	data[0] = 'W'
	again, _ := provider.ReadRange(6, 5)
	assert.Equal(t, "world", string(again), "returned ranges are copies")

	var ioErr *IOError
	_, err = provider.ReadRange(10, 5)
	assert.ErrorAs(t, err, &ioErr)
}
