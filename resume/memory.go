package resume

import (
	"context"
	"sort"
	"sync"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
)

var _ chunkuploader.ResumeStore = (*MemoryStore)(nil)

// MemoryStore keeps resume records in memory. It does not survive the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[uint32]struct{}
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]map[uint32]struct{}{}}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedIndices(s.records[key]), nil
}

func (s *MemoryStore) MarkComplete(_ context.Context, key string, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		record = map[uint32]struct{}{}
		s.records[key] = record
	}
	record[index] = struct{}{}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

func sortedIndices(set map[uint32]struct{}) []uint32 {
	indices := make([]uint32, 0, len(set))
	for index := range set {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}
