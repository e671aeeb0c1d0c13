package chunkuploader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	calls    map[uint32]int
	received map[uint32][]byte
	order    []uint32

	inFlight    int32
	maxInFlight int32

	delay  time.Duration
	result func(ctx context.Context, index uint32, attempt int) error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		calls:    map[uint32]int{},
		received: map[uint32][]byte{},
	}
}

func (s *fakeSubmitter) Submit(ctx context.Context, index uint32, data []byte) error {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, current) {
			break
		}
	}

	s.mu.Lock()
	s.calls[index]++
	attempt := s.calls[index]
	s.order = append(s.order, index)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.result != nil {
		if err := s.result(ctx, index, attempt); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.received[index] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *fakeSubmitter) callCount(index uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[index]
}

func (s *fakeSubmitter) calledIndices() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var indices []uint32
	for index := range s.calls {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

func (s *fakeSubmitter) submissionOrder() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.order...)
}

type listingSubmitter struct {
	*fakeSubmitter
	remote []uint32
	err    error
}

func (s *listingSubmitter) ListChunks(context.Context) ([]uint32, error) {
	return s.remote, s.err
}

type memStore struct {
	mu      sync.Mutex
	records map[string]map[uint32]bool
	markErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]map[uint32]bool{}}
}

func (s *memStore) Load(_ context.Context, key string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var indices []uint32
	for index := range s.records[key] {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}

func (s *memStore) MarkComplete(_ context.Context, key string, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	if s.records[key] == nil {
		s.records[key] = map[uint32]bool{}
	}
	s.records[key][index] = true
	return nil
}

func (s *memStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *memStore) has(key string, index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key][index]
}

type failingProvider struct {
	*ByteSliceChunkProvider
	failAt int64
}

func (p *failingProvider) ReadRange(offset, length int64) ([]byte, error) {
	if offset == p.failAt {
		return nil, errors.New("device not ready")
	}
	return p.ByteSliceChunkProvider.ReadRange(offset, length)
}

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func testConfig() Config {
	config := DefaultConfig()
	config.ChunkSize = 10
	config.TargetRate = 0
	config.RetryBaseDelay = 10 * time.Millisecond
	config.RetryMaxDelay = time.Second
	config.ChunkTimeout = 0
	config.HungThreshold = 0
	return config
}
