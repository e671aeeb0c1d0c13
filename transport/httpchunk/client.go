// Package httpchunk submits chunks to an HTTP endpoint, one request per chunk.
package httpchunk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
)

const (
	HeaderChunkIndex  = "X-Chunk-Index"
	HeaderChunkLength = "X-Chunk-Length"

	maxErrorBodyBytes = 1024
)

var (
	_ chunkuploader.Submitter    = (*Client)(nil)
	_ chunkuploader.RemoteLister = (*Client)(nil)
)

// Config ...
type Config struct {
	// BaseURL receives chunk i at {BaseURL}/{i}. A GET on BaseURL lists the accepted chunks.
	BaseURL     string
	Method      string
	Headers     map[string]string
	AccessToken string
	// Compress sends zstd compressed bodies with Content-Encoding: zstd.
	Compress bool
}

type listResponse struct {
	Chunks []uint32 `json:"chunks"`
}

// Client ...
type Client struct {
	config Config
	// submitClient makes a single attempt per call, retries belong to the scheduler.
	submitClient *retryablehttp.Client
	listClient   *retryablehttp.Client
	encoder      *zstd.Encoder
	logger       log.Logger
}

// NewClient ...
func NewClient(config Config, logger log.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, &chunkuploader.ConfigurationError{Field: "endpoint", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, &chunkuploader.ConfigurationError{Field: "endpoint", Reason: fmt.Sprintf("%s is not an http(s) URL", config.BaseURL)}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Method == "" {
		config.Method = http.MethodPut
	}

	submitClient := retryhttp.NewClient(logger)
	submitClient.RetryMax = 0
	submitClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		config:       config,
		submitClient: submitClient,
		listClient:   retryhttp.NewClient(logger),
		logger:       logger,
	}

	if config.Compress {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.encoder = encoder
	}

	return c, nil
}

// Submit sends one chunk.
func (c *Client) Submit(ctx context.Context, index uint32, data []byte) error {
	body := data
	if c.encoder != nil {
		body = c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, c.config.Method, c.chunkURL(index), body)
	if err != nil {
		return chunkuploader.NewPermanentError(fmt.Errorf("create request: %w", err))
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderChunkIndex, strconv.FormatUint(uint64(index), 10))
	req.Header.Set(HeaderChunkLength, strconv.Itoa(len(data)))
	if c.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
	}
	req.ContentLength = int64(len(body))

	resp, err := c.submitClient.Do(req)
	if resp != nil {
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				c.logger.Warnf("close response body: %s", err)
			}
		}(resp.Body)
	}

	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return classify(ctx, resp, err)
}

// ListChunks returns the chunk indices the endpoint already holds. A 404 means none.
func (c *Client) ListChunks(ctx context.Context) ([]uint32, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.listClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warnf("close response body: %s", err)
		}
	}(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("list chunks: %w", unwrapError(resp))
	}

	var response listResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode chunk list: %w", err)
	}
	return response.Chunks, nil
}

func (c *Client) chunkURL(index uint32) string {
	return c.config.BaseURL + "/" + strconv.FormatUint(uint64(index), 10)
}

func (c *Client) setHeaders(req *retryablehttp.Request) {
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if c.config.AccessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.config.AccessToken))
	}
}

func classify(ctx context.Context, resp *http.Response, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var failure error
	if resp != nil {
		failure = unwrapError(resp)
		err = nil
	} else {
		failure = fmt.Errorf("do request: %w", err)
	}

	if retryable, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, err); retryable {
		return chunkuploader.NewTransientError(failure)
	}
	return chunkuploader.NewPermanentError(failure)
}

func unwrapError(resp *http.Response) error {
	errorBody := make([]byte, maxErrorBodyBytes)
	n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody[:n])))
}
