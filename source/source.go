// Package source resolves the payload location given on the command line to a local file.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/melbahja/got"
)

// Source is a payload available on the local filesystem.
type Source struct {
	// Location is the location the source was resolved from.
	Location string
	// Path is the absolute path of the local file.
	Path    string
	Size    int64
	ModTime time.Time
	// Downloaded is set when Path is a temporary copy of a remote payload.
	Downloaded bool
	// Digest is the hex sha256 of a downloaded payload.
	Digest string

	tempDir string
}

// Identity returns the payload identity used to derive the resume key. Downloaded payloads
// are identified by their URL and content digest, as every download produces a fresh local file.
func (s *Source) Identity(chunkSize, offset int64) resume.Identity {
	identity := resume.Identity{
		Path:      s.Path,
		Size:      s.Size,
		ModTime:   s.ModTime,
		ChunkSize: chunkSize,
		Offset:    offset,
	}
	if s.Downloaded {
		identity.Path = s.Location
		identity.ModTime = time.Time{}
		identity.Digest = s.Digest
	}
	return identity
}

// Open opens the payload for chunked reads.
func (s *Source) Open() (*chunkuploader.FileChunkProvider, error) {
	return chunkuploader.NewFileChunkProvider(s.Path)
}

// Close removes the temporary copy of a downloaded payload.
func (s *Source) Close() error {
	if s.tempDir == "" {
		return nil
	}
	return os.RemoveAll(s.tempDir)
}

// Resolver ...
type Resolver struct {
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	pathProvider pathutil.PathProvider
	httpClient   *http.Client
	logger       log.Logger
}

// NewResolver ...
func NewResolver(logger log.Logger) *Resolver {
	return &Resolver{
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
		pathProvider: pathutil.NewPathProvider(),
		httpClient:   retryhttp.NewClient(logger).StandardClient(),
		logger:       logger,
	}
}

// Resolve accepts a local path, a file:// URL or an http(s):// URL. Remote payloads are downloaded
// to a temporary directory that Close removes.
func (r *Resolver) Resolve(ctx context.Context, location string) (*Source, error) {
	if strings.TrimSpace(location) == "" {
		return nil, &chunkuploader.ConfigurationError{Field: "file", Reason: "must not be empty"}
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Not a URL, or a Windows drive letter.
		return r.local(location, location)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return r.local(location, u.Path)
	case "http", "https":
		return r.download(ctx, location, u)
	default:
		return nil, &chunkuploader.ConfigurationError{
			Field:  "file",
			Reason: fmt.Sprintf("unsupported scheme %q (valid: file, http, https)", u.Scheme),
		}
	}
}

func (r *Resolver) local(location, pth string) (*Source, error) {
	absPath, err := r.pathModifier.AbsPath(pth)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", pth, err)
	}

	exists, err := r.pathChecker.IsPathExists(absPath)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", absPath, err)
	}
	if !exists {
		return nil, &chunkuploader.ConfigurationError{Field: "file", Reason: fmt.Sprintf("%s does not exist", absPath)}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.IsDir() {
		return nil, &chunkuploader.ConfigurationError{Field: "file", Reason: fmt.Sprintf("%s is a directory", absPath)}
	}

	return &Source{
		Location: location,
		Path:     absPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

func (r *Resolver) download(ctx context.Context, location string, u *url.URL) (*Source, error) {
	tempDir, err := r.pathProvider.CreateTempDir("chunk-uploader-source")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "payload"
	}
	dest := filepath.Join(tempDir, name)

	r.logger.Infof("Downloading %s", location)
	downloadStart := time.Now()

	downloader := got.New()
	downloader.Client = r.httpClient
	if err := downloader.Do(got.NewDownload(ctx, location, dest)); err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, fmt.Errorf("download %s: %w", location, err)
	}

	r.logger.Donef("Downloaded in %s", time.Since(downloadStart).Round(time.Millisecond))

	src, err := r.local(location, dest)
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, err
	}
	digest, err := fileDigest(dest)
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, err
	}
	src.Downloaded = true
	src.Digest = digest
	src.tempDir = tempDir
	return src, nil
}

func fileDigest(pth string) (string, error) {
	f, err := os.Open(pth)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", pth, err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", pth, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
