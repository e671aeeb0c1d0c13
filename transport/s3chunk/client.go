// Package s3chunk stores every chunk as a separate object under a common key prefix.
package s3chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
)

var (
	_ chunkuploader.Submitter    = (*Client)(nil)
	_ chunkuploader.RemoteLister = (*Client)(nil)
)

// permanentErrorCodes are S3 error codes that no amount of retrying fixes.
var permanentErrorCodes = map[string]bool{
	"AccessDenied":          true,
	"AllAccessDisabled":     true,
	"InvalidAccessKeyId":    true,
	"InvalidBucketName":     true,
	"NoSuchBucket":          true,
	"SignatureDoesNotMatch": true,
	"EntityTooLarge":        true,
	"InvalidArgument":       true,
}

// API is the subset of the S3 client used for chunk uploads.
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
}

// Config ...
type Config struct {
	Bucket string
	Region string
	// Prefix is prepended to the object keys: chunk i is stored at {Prefix}/{i:08d}.
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for S3 compatible storages. Path style addressing is used with it.
	Endpoint string
}

// Client ...
type Client struct {
	api    API
	config Config
	logger log.Logger
}

// NewClient creates a client from the default AWS credential chain or the static credentials in config.
func NewClient(ctx context.Context, config Config, logger log.Logger) (*Client, error) {
	if err := validate(config); err != nil {
		return nil, err
	}

	cfg, err := loadAWSConfig(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	api := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewClientWithAPI(api, config, logger)
}

// NewClientWithAPI ...
func NewClientWithAPI(api API, config Config, logger log.Logger) (*Client, error) {
	if err := validate(config); err != nil {
		return nil, err
	}
	config.Prefix = strings.Trim(config.Prefix, "/")
	return &Client{api: api, config: config, logger: logger}, nil
}

func validate(config Config) error {
	if config.Bucket == "" {
		return &chunkuploader.ConfigurationError{Field: "s3_bucket", Reason: "must not be empty"}
	}
	return nil
}

// ObjectKey returns the key chunk index is stored at.
func (c *Client) ObjectKey(index uint32) string {
	name := fmt.Sprintf("%08d", index)
	if c.config.Prefix == "" {
		return name
	}
	return c.config.Prefix + "/" + name
}

// Submit uploads one chunk as a single object.
func (c *Client) Submit(ctx context.Context, index uint32, data []byte) error {
	uploader := manager.NewUploader(c.api, func(u *manager.Uploader) {
		u.PartSize = partSize(len(data))
		u.Concurrency = 1
	})

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Body:              bytes.NewReader(data),
		Bucket:            aws.String(c.config.Bucket),
		Key:               aws.String(c.ObjectKey(index)),
		ContentType:       aws.String("application/octet-stream"),
		ContentLength:     aws.Int64(int64(len(data))),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	})
	if err != nil {
		return classify(ctx, fmt.Errorf("put chunk %d: %w", index, err))
	}
	return nil
}

// ListChunks returns the indices of the chunk objects under the prefix.
func (c *Client) ListChunks(ctx context.Context) ([]uint32, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
	}
	if c.config.Prefix != "" {
		input.Prefix = aws.String(c.config.Prefix + "/")
	}

	var indices []uint32
	paginator := s3.NewListObjectsV2Paginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, object := range page.Contents {
			index, ok := c.parseObjectKey(aws.ToString(object.Key))
			if !ok {
				c.logger.Debugf("Ignoring unrelated object: %s", aws.ToString(object.Key))
				continue
			}
			indices = append(indices, index)
		}
	}

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}

func (c *Client) parseObjectKey(key string) (uint32, bool) {
	name := key
	if c.config.Prefix != "" {
		if !strings.HasPrefix(key, c.config.Prefix+"/") {
			return 0, false
		}
		name = strings.TrimPrefix(key, c.config.Prefix+"/")
	}
	if len(name) < 8 || strings.Contains(name, "/") {
		return 0, false
	}
	index, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(index), true
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) && permanentErrorCodes[apiError.ErrorCode()] {
		return chunkuploader.NewPermanentError(err)
	}
	return chunkuploader.NewTransientError(err)
}

// partSize keeps every chunk in a single PutObject call.
func partSize(length int) int64 {
	size := int64(length) + 1
	if size < manager.MinUploadPartSize {
		return manager.MinUploadPartSize
	}
	return size
}
