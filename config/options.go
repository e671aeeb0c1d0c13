// Package config loads the upload options from defaults, an optional YAML file, the environment
// and command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/bitrise-io/chunk-uploader/transport/dfx"
	"github.com/bitrise-io/chunk-uploader/transport/httpchunk"
	"github.com/bitrise-io/chunk-uploader/transport/s3chunk"
	"github.com/docker/go-units"
)

// Transport names.
const (
	TransportDFX  = "dfx"
	TransportHTTP = "http"
	TransportS3   = "s3"
)

// Options is the complete, user facing configuration of an upload.
type Options struct {
	File      string `koanf:"file"`
	Transport string `koanf:"transport"`

	Parallel      bool    `koanf:"parallel"`
	MaxConcurrent int     `koanf:"max_concurrent"`
	TargetRate    float64 `koanf:"target_rate"`
	ChunkSize     string  `koanf:"chunk_size"`
	ChunkOffset   uint32  `koanf:"chunk_offset"`
	Offset        string  `koanf:"offset"`

	AutoResume      bool   `koanf:"autoresume"`
	MaxRetries      int    `koanf:"max_retries"`
	RetryChunksFile string `koanf:"retry_chunks_file"`

	RetryDelay    time.Duration `koanf:"retry_delay"`
	RetryMaxDelay time.Duration `koanf:"retry_max_delay"`
	ChunkTimeout  time.Duration `koanf:"chunk_timeout"`
	HungThreshold time.Duration `koanf:"hung_threshold"`

	FailurePolicy string `koanf:"failure_policy"`
	VerifyRemote  bool   `koanf:"verify_remote"`

	StateDir        string `koanf:"state_dir"`
	ResumeBackend   string `koanf:"resume_backend"`
	FailedChunksOut string `koanf:"failed_chunks_out"`

	ProgressInterval time.Duration `koanf:"progress_interval"`
	Verbose          bool          `koanf:"verbose"`

	DFX   DFXOptions   `koanf:"dfx"`
	HTTP  HTTPOptions  `koanf:"http"`
	S3    S3Options    `koanf:"s3"`
	Redis RedisOptions `koanf:"redis"`
}

// DFXOptions ...
type DFXOptions struct {
	Canister   string `koanf:"canister"`
	Method     string `koanf:"method"`
	ListMethod string `koanf:"list_method"`
	Network    string `koanf:"network"`
	Binary     string `koanf:"binary"`
}

// HTTPOptions ...
type HTTPOptions struct {
	Endpoint string   `koanf:"endpoint"`
	Method   string   `koanf:"method"`
	Token    string   `koanf:"token"`
	Headers  []string `koanf:"headers"`
	Compress bool     `koanf:"compress"`
}

// S3Options ...
type S3Options struct {
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	Prefix          string `koanf:"prefix"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
}

// RedisOptions ...
type RedisOptions struct {
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	KeyPrefix string        `koanf:"key_prefix"`
	TTL       time.Duration `koanf:"ttl"`
}

// Defaults returns the built-in option values.
func Defaults() Options {
	core := chunkuploader.DefaultConfig()
	return Options{
		Transport:        TransportDFX,
		Parallel:         core.Parallel,
		MaxConcurrent:    core.Concurrency,
		TargetRate:       chunkuploader.DefaultTargetRateMiBs,
		ChunkSize:        fmt.Sprint(core.ChunkSize),
		Offset:           "0",
		AutoResume:       core.AutoResume,
		MaxRetries:       core.MaxRetryPerChunk,
		RetryDelay:       core.RetryBaseDelay,
		RetryMaxDelay:    core.RetryMaxDelay,
		ChunkTimeout:     core.ChunkTimeout,
		HungThreshold:    core.HungThreshold,
		FailurePolicy:    core.FailurePolicy.String(),
		StateDir:         "~/.chunk-uploader",
		ResumeBackend:    resume.BackendFile,
		ProgressInterval: 2 * time.Second,
		DFX: DFXOptions{
			ListMethod: dfx.DefaultListMethod,
			Binary:     dfx.DefaultBinary,
		},
		HTTP: HTTPOptions{
			Method: "PUT",
		},
		Redis: RedisOptions{
			Addr: "localhost:6379",
			TTL:  7 * 24 * time.Hour,
		},
	}
}

// Validate checks the options that the core configuration does not cover.
func (o Options) Validate() error {
	if strings.TrimSpace(o.File) == "" {
		return configurationError("file", "must not be empty")
	}
	if _, err := o.chunkSize(); err != nil {
		return err
	}
	if _, err := o.offset(); err != nil {
		return err
	}
	if o.TargetRate < 0 {
		return configurationError("target_rate", "must not be negative, got %g", o.TargetRate)
	}
	if o.Parallel && o.MaxConcurrent < 1 {
		return configurationError("max_concurrent", "must be a positive integer, got %d", o.MaxConcurrent)
	}

	switch strings.ToLower(o.Transport) {
	case TransportDFX:
		if o.DFX.Canister == "" {
			return configurationError("canister", "must not be empty for the dfx transport")
		}
		if o.DFX.Method == "" {
			return configurationError("method", "must not be empty for the dfx transport")
		}
	case TransportHTTP:
		if o.HTTP.Endpoint == "" {
			return configurationError("endpoint", "must not be empty for the http transport")
		}
		if _, err := o.headers(); err != nil {
			return err
		}
	case TransportS3:
		if o.S3.Bucket == "" {
			return configurationError("s3_bucket", "must not be empty for the s3 transport")
		}
		if o.S3.Region == "" {
			return configurationError("s3_region", "must not be empty for the s3 transport")
		}
	default:
		return configurationError("transport", "unknown transport %q (valid: dfx, http, s3)", o.Transport)
	}

	switch strings.ToLower(o.ResumeBackend) {
	case resume.BackendFile, resume.BackendBolt, resume.BackendRedis, resume.BackendMemory:
	default:
		return configurationError("resume_backend", "unknown backend %q (valid: file, bolt, redis, memory)", o.ResumeBackend)
	}

	core, err := o.Core()
	if err != nil {
		return err
	}
	return core.Validate()
}

// Core converts the options to the scheduler configuration.
func (o Options) Core() (chunkuploader.Config, error) {
	chunkSize, err := o.chunkSize()
	if err != nil {
		return chunkuploader.Config{}, err
	}
	policy, err := chunkuploader.ParseFailurePolicy(o.FailurePolicy)
	if err != nil {
		return chunkuploader.Config{}, err
	}

	core := chunkuploader.DefaultConfig()
	core.Parallel = o.Parallel
	core.Concurrency = o.MaxConcurrent
	core.ChunkSize = chunkSize
	core.TargetRate = o.TargetRate * chunkuploader.MiB
	core.MaxRetryPerChunk = o.MaxRetries
	core.RetryBaseDelay = o.RetryDelay
	core.RetryMaxDelay = o.RetryMaxDelay
	core.ChunkTimeout = o.ChunkTimeout
	core.HungThreshold = o.HungThreshold
	core.FailurePolicy = policy
	core.AutoResume = o.AutoResume
	core.VerifyRemote = o.VerifyRemote
	// A sequential canister appends every call it receives, so an in-flight call is never cut short.
	if strings.EqualFold(o.Transport, TransportDFX) && !o.Parallel {
		core.ChunkTimeout = 0
		core.HungThreshold = 0
	}
	return core, nil
}

// ChunkSizeBytes returns the parsed chunk size.
func (o Options) ChunkSizeBytes() int64 {
	size, _ := o.chunkSize()
	return size
}

// OffsetBytes returns the parsed byte offset.
func (o Options) OffsetBytes() int64 {
	offset, _ := o.offset()
	return offset
}

// ResumeTarget describes the remote destination for the resume key.
func (o Options) ResumeTarget() resume.Target {
	target := resume.Target{Transport: strings.ToLower(o.Transport)}
	switch target.Transport {
	case TransportDFX:
		target.Endpoint = o.DFX.Canister
		target.Method = o.DFX.Method
		target.Network = o.DFX.Network
	case TransportHTTP:
		target.Endpoint = o.HTTP.Endpoint
		target.Method = strings.ToUpper(o.HTTP.Method)
	case TransportS3:
		target.Endpoint = o.S3.Bucket + "/" + strings.Trim(o.S3.Prefix, "/")
		target.Network = o.S3.Endpoint
	}
	return target
}

// ResumeOptions returns the resume store selection.
func (o Options) ResumeOptions(stateDir string) resume.Options {
	return resume.Options{
		Backend:  o.ResumeBackend,
		StateDir: stateDir,
		Redis: resume.RedisConfig{
			Addr:      o.Redis.Addr,
			Password:  o.Redis.Password,
			DB:        o.Redis.DB,
			KeyPrefix: o.Redis.KeyPrefix,
			TTL:       o.Redis.TTL,
		},
	}
}

// DFXConfig ...
func (o Options) DFXConfig() dfx.Config {
	return dfx.Config{
		Canister:   o.DFX.Canister,
		Method:     o.DFX.Method,
		ListMethod: o.DFX.ListMethod,
		Network:    o.DFX.Network,
		Binary:     o.DFX.Binary,
		Indexed:    o.Parallel,
	}
}

// HTTPConfig ...
func (o Options) HTTPConfig() (httpchunk.Config, error) {
	headers, err := o.headers()
	if err != nil {
		return httpchunk.Config{}, err
	}
	return httpchunk.Config{
		BaseURL:     o.HTTP.Endpoint,
		Method:      strings.ToUpper(o.HTTP.Method),
		Headers:     headers,
		AccessToken: o.HTTP.Token,
		Compress:    o.HTTP.Compress,
	}, nil
}

// S3Config ...
func (o Options) S3Config() s3chunk.Config {
	return s3chunk.Config{
		Bucket:          o.S3.Bucket,
		Region:          o.S3.Region,
		Prefix:          o.S3.Prefix,
		Endpoint:        o.S3.Endpoint,
		AccessKeyID:     o.S3.AccessKeyID,
		SecretAccessKey: o.S3.SecretAccessKey,
	}
}

func (o Options) chunkSize() (int64, error) {
	size, err := units.FromHumanSize(strings.TrimSpace(o.ChunkSize))
	if err != nil {
		return 0, configurationError("chunk_size", "%s", err)
	}
	if size <= 0 {
		return 0, configurationError("chunk_size", "must be positive, got %s", o.ChunkSize)
	}
	return size, nil
}

func (o Options) offset() (int64, error) {
	if strings.TrimSpace(o.Offset) == "" {
		return 0, nil
	}
	offset, err := units.FromHumanSize(strings.TrimSpace(o.Offset))
	if err != nil {
		return 0, configurationError("offset", "%s", err)
	}
	return offset, nil
}

func (o Options) headers() (map[string]string, error) {
	headers := map[string]string{}
	for _, h := range o.HTTP.Headers {
		sep := strings.IndexAny(h, ":=")
		if sep <= 0 {
			return nil, configurationError("header", "%q is not in Name: value form", h)
		}
		headers[strings.TrimSpace(h[:sep])] = strings.TrimSpace(h[sep+1:])
	}
	return headers, nil
}

func configurationError(field, format string, v ...interface{}) error {
	return &chunkuploader.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, v...)}
}
