package config

import (
	"github.com/spf13/pflag"
)

// flagKeys maps flag names to option keys.
var flagKeys = map[string]string{
	"transport":         "transport",
	"parallel":          "parallel",
	"max-concurrent":    "max_concurrent",
	"target-rate":       "target_rate",
	"chunk-size":        "chunk_size",
	"chunk-offset":      "chunk_offset",
	"offset":            "offset",
	"autoresume":        "autoresume",
	"max-retries":       "max_retries",
	"retry-chunks-file": "retry_chunks_file",
	"retry-delay":       "retry_delay",
	"retry-max-delay":   "retry_max_delay",
	"chunk-timeout":     "chunk_timeout",
	"hung-threshold":    "hung_threshold",
	"failure-policy":    "failure_policy",
	"verify-remote":     "verify_remote",
	"state-dir":         "state_dir",
	"resume-backend":    "resume_backend",
	"failed-chunks-out": "failed_chunks_out",
	"progress-interval": "progress_interval",
	"verbose":           "verbose",

	"canister":    "dfx.canister",
	"method":      "dfx.method",
	"list-method": "dfx.list_method",
	"network":     "dfx.network",
	"dfx":         "dfx.binary",

	"endpoint":    "http.endpoint",
	"http-method": "http.method",
	"token":       "http.token",
	"header":      "http.headers",
	"compress":    "http.compress",

	"s3-bucket":   "s3.bucket",
	"s3-region":   "s3.region",
	"s3-prefix":   "s3.prefix",
	"s3-endpoint": "s3.endpoint",

	"redis-addr":     "redis.addr",
	"redis-password": "redis.password",
	"redis-db":       "redis.db",
	"redis-ttl":      "redis.ttl",
}

// RegisterTargetFlags adds the flags identifying the upload target and the resume store.
// They are shared by the upload, status and reset commands.
func RegisterTargetFlags(fs *pflag.FlagSet) {
	d := Defaults()

	fs.String("transport", d.Transport, "Submit transport: dfx, http or s3")
	fs.String("chunk-size", d.ChunkSize, "Chunk size, e.g. 2000000 or 2MB")
	fs.String("offset", d.Offset, "Byte offset of the payload where chunking starts")

	fs.String("canister", d.DFX.Canister, "dfx: canister name")
	fs.String("method", d.DFX.Method, "dfx: canister method receiving the chunks")
	fs.String("list-method", d.DFX.ListMethod, "dfx: canister method listing the received chunk ids")
	fs.StringP("network", "n", d.DFX.Network, "dfx: network to call, e.g. ic")
	fs.String("dfx", d.DFX.Binary, "dfx: path of the dfx executable")

	fs.String("endpoint", d.HTTP.Endpoint, "http: base URL, chunk i is sent to {endpoint}/{i}")
	fs.String("http-method", d.HTTP.Method, "http: request method of chunk submissions")

	fs.String("s3-bucket", d.S3.Bucket, "s3: bucket")
	fs.String("s3-region", d.S3.Region, "s3: region")
	fs.String("s3-prefix", d.S3.Prefix, "s3: object key prefix")
	fs.String("s3-endpoint", d.S3.Endpoint, "s3: custom endpoint of an S3 compatible storage")

	fs.String("state-dir", d.StateDir, "Directory of the resume records")
	fs.String("resume-backend", d.ResumeBackend, "Resume store: file, bolt, redis or memory")
	fs.String("redis-addr", d.Redis.Addr, "redis: address of the resume store")
	fs.String("redis-password", d.Redis.Password, "redis: password")
	fs.Int("redis-db", d.Redis.DB, "redis: database")
	fs.Duration("redis-ttl", d.Redis.TTL, "redis: expiration of resume records")
}

// RegisterUploadFlags adds the flags of the upload command.
func RegisterUploadFlags(fs *pflag.FlagSet) {
	d := Defaults()

	RegisterTargetFlags(fs)

	fs.Bool("parallel", d.Parallel, "Upload chunks concurrently; when false chunks are sent one by one in order")
	fs.Int("max-concurrent", d.MaxConcurrent, "Maximum number of chunks in flight")
	fs.Float64("target-rate", d.TargetRate, "Throughput ceiling in MiB/s, 0 disables the limit")
	fs.Uint32("chunk-offset", d.ChunkOffset, "Skip every chunk below this index")
	fs.BoolP("autoresume", "a", d.AutoResume, "Skip chunks recorded as uploaded by a previous run")
	fs.Int("max-retries", d.MaxRetries, "Maximum attempts per chunk")
	fs.String("retry-chunks-file", d.RetryChunksFile, "Upload only the chunk indices listed in this file")
	fs.Duration("retry-delay", d.RetryDelay, "Backoff before the second attempt of a chunk, doubled for each later attempt")
	fs.Duration("retry-max-delay", d.RetryMaxDelay, "Backoff cap")
	fs.Duration("chunk-timeout", d.ChunkTimeout, "Timeout of a single chunk submission, 0 disables it")
	fs.Duration("hung-threshold", d.HungThreshold, "Cancel a submission running this much longer than the average, 0 disables it")
	fs.String("failure-policy", d.FailurePolicy, "fail-fast or drain")
	fs.Bool("verify-remote", d.VerifyRemote, "Ask the remote side which chunks it already holds before uploading")
	fs.String("failed-chunks-out", d.FailedChunksOut, "Write the indices of unfinished chunks to this file (default: <state-dir>/<key>.failed)")
	fs.Duration("progress-interval", d.ProgressInterval, "Minimum time between progress lines")

	fs.String("token", d.HTTP.Token, "http: bearer token")
	fs.StringSlice("header", d.HTTP.Headers, "http: extra request header in 'Name: value' form, repeatable")
	fs.Bool("compress", d.HTTP.Compress, "http: send zstd compressed chunk bodies")
}
