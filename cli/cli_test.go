package cli

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkServer struct {
	mu       sync.Mutex
	received map[int][]byte
	calls    int
	status   func(index, call int) int
}

func newChunkServer(t *testing.T, status func(index, call int) int) (*chunkServer, string) {
	s := &chunkServer{received: map[int][]byte{}, status: status}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		if code := s.status(index, s.calls); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		s.received[index] = body
	}))
	t.Cleanup(server.Close)
	return s, server.URL
}

func (s *chunkServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func execute(t *testing.T, args ...string) int {
	return Execute(context.Background(), log.NewLogger(), env.NewRepository(), append([]string{appName}, args...))
}

func TestUploadStatusReset_HTTP(t *testing.T) {
	var failedOnce bool
	server, url := newChunkServer(t, func(index, call int) int {
		if index == 2 && !failedOnce {
			failedOnce = true
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})

	payload := []byte("0123456789abcdefghijKLMNO")
	file := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(file, payload, 0600))
	stateDir := t.TempDir()

	common := []string{
		"--transport", "http",
		"--endpoint", url,
		"--chunk-size", "10",
		"--state-dir", stateDir,
		"--env-file", "",
	}
	uploadArgs := append(append([]string{"upload"}, common...), "--target-rate", "0", "--retry-delay", "1ms", file)

	require.Equal(t, 0, execute(t, uploadArgs...))
	require.Len(t, server.received, 3)
	assert.Equal(t, payload, append(append(server.received[0], server.received[1]...), server.received[2]...))
	assert.Equal(t, 4, server.callCount())

	// Everything is recorded, a second run sends nothing.
	require.Equal(t, 0, execute(t, uploadArgs...))
	assert.Equal(t, 4, server.callCount())

	require.Equal(t, 0, execute(t, append(append([]string{"status"}, common...), file)...))

	records, err := filepath.Glob(filepath.Join(stateDir, "*.chunks"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.Equal(t, 0, execute(t, append(append([]string{"reset"}, common...), file)...))
	_, err = os.Stat(records[0])
	assert.True(t, os.IsNotExist(err))

	require.Equal(t, 0, execute(t, uploadArgs...))
	assert.Equal(t, 7, server.callCount())
}

func TestUpload_WritesUnfinishedChunks(t *testing.T) {
	_, url := newChunkServer(t, func(index, call int) int {
		if index == 1 {
			return http.StatusBadRequest
		}
		return http.StatusOK
	})

	file := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(file, []byte("0123456789abcdefghij0123456789"), 0600))
	failedOut := filepath.Join(t.TempDir(), "failed.txt")

	code := execute(t, "upload",
		"--transport", "http",
		"--endpoint", url,
		"--chunk-size", "10",
		"--target-rate", "0",
		"--failure-policy", "drain",
		"--state-dir", t.TempDir(),
		"--failed-chunks-out", failedOut,
		"--env-file", "",
		file,
	)
	require.Equal(t, 1, code)

	indices, err := resume.ReadIndexFile(fileutil.NewFileManager(), failedOut)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, indices)
}

func TestUpload_ConfigurationError(t *testing.T) {
	file := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	// The dfx transport needs a canister and a method.
	assert.Equal(t, 2, execute(t, "upload", "--state-dir", t.TempDir(), "--env-file", "", file))
	assert.Equal(t, 2, execute(t, "upload", "--transport", "http", "--endpoint", "http://localhost", "--env-file", "", filepath.Join(t.TempDir(), "missing")))
	assert.Equal(t, 1, execute(t, "upload", "a", "b"))
}

func TestResumeArgs(t *testing.T) {
	tests := []struct {
		name       string
		invocation []string
		want       []string
	}{
		{
			name:       "no invocation",
			invocation: nil,
			want:       []string{"chunk-uploader", "upload"},
		},
		{
			name:       "drops previous resume options",
			invocation: []string{"/usr/local/bin/chunk-uploader", "upload", "--chunk-offset", "4", "assets", "upload_chunk", "--retry-chunks-file=old.txt", "model.bin", "-n", "ic"},
			want:       []string{"chunk-uploader", "upload", "assets", "upload_chunk", "model.bin", "-n", "ic"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resumeArgs(tt.invocation))
		})
	}
}
