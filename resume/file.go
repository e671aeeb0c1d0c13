package resume

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

var _ chunkuploader.ResumeStore = (*FileStore)(nil)

const recordExtension = ".chunks"

// FileStore keeps one append-only record file per key in a directory. Every accepted chunk
// is written as a decimal index on its own line and synced before MarkComplete returns.
type FileStore struct {
	dir         string
	fileManager fileutil.FileManager

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	absDir, err := pathutil.NewPathModifier().AbsPath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(absDir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", absDir, err)
	}

	return &FileStore{
		dir:         absDir,
		fileManager: fileutil.NewFileManager(),
		files:       map[string]*os.File{},
	}, nil
}

// Dir returns the absolute state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// RecordPath returns the record file of key.
func (s *FileStore) RecordPath(key string) string {
	return filepath.Join(s.dir, key+recordExtension)
}

func (s *FileStore) Load(_ context.Context, key string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.RecordPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume record: %w", err)
	}

	return parseRecord(content)
}

func (s *FileStore) MarkComplete(_ context.Context, key string, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.appendHandle(key)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.FormatUint(uint64(index), 10) + "\n"); err != nil {
		return fmt.Errorf("append to resume record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync resume record: %w", err)
	}
	return nil
}

func (s *FileStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[key]; ok {
		_ = f.Close()
		delete(s.files, key)
	}

	if err := s.fileManager.Remove(s.RecordPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove resume record: %w", err)
	}
	return nil
}

// Close closes the open record files.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, key)
	}
	return errors.Join(errs...)
}

func (s *FileStore) appendHandle(key string) (*os.File, error) {
	if f, ok := s.files[key]; ok {
		return f, nil
	}

	pth := s.RecordPath(key)
	if err := terminatePartialLine(pth); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(pth, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open resume record: %w", err)
	}
	s.files[key] = f
	return f, nil
}

// terminatePartialLine drops a trailing fragment left by an interrupted append, so the next
// index starts on a fresh line.
func terminatePartialLine(pth string) error {
	content, err := os.ReadFile(pth)
	if errors.Is(err, fs.ErrNotExist) || len(content) == 0 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read resume record: %w", err)
	}
	if content[len(content)-1] == '\n' {
		return nil
	}

	end := bytes.LastIndexByte(content, '\n') + 1
	if err := os.Truncate(pth, int64(end)); err != nil {
		return fmt.Errorf("truncate partial resume record line: %w", err)
	}
	return nil
}

func parseRecord(content []byte) ([]uint32, error) {
	complete := content
	if i := bytes.LastIndexByte(content, '\n'); i+1 < len(content) {
		complete = content[:i+1]
	}

	set := map[uint32]struct{}{}
	scanner := bufio.NewScanner(bytes.NewReader(complete))
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		index, err := strconv.ParseUint(string(text), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("resume record line %d: invalid chunk index %q", line, text)
		}
		set[uint32(index)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan resume record: %w", err)
	}
	return sortedIndices(set), nil
}
