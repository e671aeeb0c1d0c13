package httpchunk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	var got struct {
		method, path, index, length, auth, custom string
		body                                      []byte
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.index = r.Header.Get(HeaderChunkIndex)
		got.length = r.Header.Get(HeaderChunkLength)
		got.auth = r.Header.Get("Authorization")
		got.custom = r.Header.Get("X-Upload-Id")
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:     server.URL + "/uploads/abc/",
		AccessToken: "token",
		Headers:     map[string]string{"X-Upload-Id": "abc"},
	}, log.NewLogger())
	require.NoError(t, err)

	require.NoError(t, client.Submit(context.Background(), 12, []byte("chunk-data")))

	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/uploads/abc/12", got.path)
	assert.Equal(t, "12", got.index)
	assert.Equal(t, "10", got.length)
	assert.Equal(t, "Bearer token", got.auth)
	assert.Equal(t, "abc", got.custom)
	assert.Equal(t, "chunk-data", string(got.body))
}

func TestClient_Submit_Compressed(t *testing.T) {
	payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	var encoding string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Content-Encoding")
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Compress: true}, log.NewLogger())
	require.NoError(t, err)
	require.NoError(t, client.Submit(context.Background(), 0, payload))

	assert.Equal(t, "zstd", encoding)
	decoder, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer decoder.Close()
	decoded, err := decoder.DecodeAll(body, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestClient_Submit_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status        int
		wantPermanent bool
	}{
		{status: http.StatusServiceUnavailable, wantPermanent: false},
		{status: http.StatusTooManyRequests, wantPermanent: false},
		{status: http.StatusBadGateway, wantPermanent: false},
		{status: http.StatusBadRequest, wantPermanent: true},
		{status: http.StatusUnauthorized, wantPermanent: true},
		{status: http.StatusRequestEntityTooLarge, wantPermanent: true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			client, err := NewClient(Config{BaseURL: server.URL}, log.NewLogger())
			require.NoError(t, err)

			err = client.Submit(context.Background(), 1, []byte("x"))
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, chunkuploader.IsPermanent(err))
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a submit is a single attempt")
		})
	}
}

func TestClient_Submit_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(Config{BaseURL: url}, log.NewLogger())
	require.NoError(t, err)

	err = client.Submit(context.Background(), 0, []byte("x"))
	require.Error(t, err)
	assert.False(t, chunkuploader.IsPermanent(err))
}

func TestClient_ListChunks(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string][]uint32{"chunks": {0, 2, 5}})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, log.NewLogger())
	require.NoError(t, err)
	client.listClient.RetryWaitMin = time.Millisecond
	client.listClient.RetryWaitMax = time.Millisecond

	indices, err := client.ListChunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 5}, indices)
}

func TestClient_ListChunks_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL}, log.NewLogger())
	require.NoError(t, err)

	indices, err := client.ListChunks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestNewClient_InvalidEndpoint(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "ftp://example.com"}, log.NewLogger())
	var configErr *chunkuploader.ConfigurationError
	assert.ErrorAs(t, err, &configErr)
}
