package report

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestFormatSnapshot(t *testing.T) {
	s := chunkuploader.Snapshot{
		Total:          10,
		Completed:      4,
		InFlight:       2,
		Failed:         1,
		TotalBytes:     20_000_000,
		CompletedBytes: 8_000_000,
		Rate:           2 * chunkuploader.MiB,
		ETA:            6*time.Second + 200*time.Millisecond,
		HasETA:         true,
	}

	assert.Equal(t, "[ 40.0%] 4/10 chunks, 2 in flight, 1 failed | 8MB / 20MB | 2MiB/s | ETA 6s", FormatSnapshot(s))
}

func TestFormatSnapshot_WithoutETA(t *testing.T) {
	s := chunkuploader.Snapshot{Total: 2, TotalBytes: 10}
	assert.Equal(t, "[  0.0%] 0/2 chunks | 0B / 10B | 0B/s", FormatSnapshot(s))
}

func TestProgress_Handle_Throttles(t *testing.T) {
	mockLogger := new(mocks.Logger)
	mockLogger.On("Printf", "%s", mock.Anything).Return()
	mockLogger.On("Warnf", "Chunk %d failed", uint32(3)).Return()

	now := time.Unix(100, 0)
	p := NewProgress(mockLogger, time.Second)
	p.now = func() time.Time { return now }

	p.Handle(chunkuploader.Snapshot{Total: 5, Completed: 1})
	now = now.Add(100 * time.Millisecond)
	p.Handle(chunkuploader.Snapshot{Total: 5, Completed: 2})
	now = now.Add(100 * time.Millisecond)
	p.Handle(chunkuploader.Snapshot{Total: 5, Completed: 2, Failed: 1, Index: 3, State: chunkuploader.StateFailed})
	now = now.Add(2 * time.Second)
	p.Handle(chunkuploader.Snapshot{Total: 5, Completed: 3, Failed: 1})
	p.Handle(chunkuploader.Snapshot{Total: 5, Completed: 4, Failed: 1, Final: true})

	mockLogger.AssertNumberOfCalls(t, "Printf", 3)
	mockLogger.AssertNumberOfCalls(t, "Warnf", 1)
	mockLogger.AssertExpectations(t)
}

func TestPendingIndices(t *testing.T) {
	result := &chunkuploader.UploadResult{
		Failed:     []chunkuploader.ChunkFailure{{Index: 6}, {Index: 2}},
		Unfinished: []uint32{4, 9},
	}
	assert.Equal(t, []uint32{2, 4, 6, 9}, PendingIndices(result))
	assert.Nil(t, PendingIndices(nil))
}

func TestResumeCommand(t *testing.T) {
	result := &chunkuploader.UploadResult{
		Failed:     []chunkuploader.ChunkFailure{{Index: 5}},
		Unfinished: []uint32{7, 8},
	}
	args := []string{"chunk-uploader", "upload", "--canister", "assets", "module.wasm"}

	assert.Equal(t,
		"chunk-uploader upload --canister assets module.wasm --chunk-offset 5 --retry-chunks-file /tmp/state/abc.failed",
		ResumeCommand(args, result, "/tmp/state/abc.failed"))
	assert.Equal(t,
		`chunk-uploader upload --canister assets module.wasm --chunk-offset 5 --retry-chunks-file "/tmp/my state/abc.failed"`,
		ResumeCommand(args, result, "/tmp/my state/abc.failed"))
	assert.Equal(t, "", ResumeCommand(args, &chunkuploader.UploadResult{}, ""))
	assert.Equal(t, []string{"chunk-uploader", "upload", "--canister", "assets", "module.wasm"}, args)
}

func TestPrintSummary(t *testing.T) {
	result := &chunkuploader.UploadResult{
		Status:   chunkuploader.StatusFailed,
		Total:    3,
		Uploaded: 2,
		Failed: []chunkuploader.ChunkFailure{
			{Index: 1, Attempts: 3, Err: errors.New("boom")},
		},
		BytesSent: 2048,
		Duration:  time.Second,
	}

	// Smoke test: the real logger must accept every line.
	PrintSummary(log.NewLogger(), result, fmt.Errorf("upload: %w", chunkuploader.ErrChunksFailed))
	PrintSummary(log.NewLogger(), nil, nil)
}
