package resume

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

const boltFileName = "resume.db"

// Options selects and configures a resume store.
type Options struct {
	Backend  string
	StateDir string
	Redis    RedisConfig
}

// Store is a resume store owning resources that must be released.
type Store interface {
	chunkuploader.ResumeStore
	Close() error
}

// Open creates the store selected by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendFile, "":
		return NewFileStore(opts.StateDir)
	case BackendBolt:
		return OpenBoltStore(filepath.Join(opts.StateDir, boltFileName))
	case BackendRedis:
		return NewRedisStore(ctx, opts.Redis)
	case BackendMemory:
		return nopCloser{NewMemoryStore()}, nil
	default:
		return nil, &chunkuploader.ConfigurationError{
			Field:  "resume_backend",
			Reason: fmt.Sprintf("unknown backend %q (valid: file, bolt, redis, memory)", opts.Backend),
		}
	}
}

type nopCloser struct {
	*MemoryStore
}

func (nopCloser) Close() error { return nil }
