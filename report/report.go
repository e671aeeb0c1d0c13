// Package report renders upload progress and the final run summary for humans.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/chunk-uploader/resume"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Progress logs progress snapshots, at most once per interval. Final snapshots and terminal
// chunk failures are always logged.
type Progress struct {
	logger   log.Logger
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

// NewProgress ...
func NewProgress(logger log.Logger, interval time.Duration) *Progress {
	return &Progress{logger: logger, interval: interval, now: time.Now}
}

// Handle is meant to be used as chunkuploader.Config.OnProgress.
func (p *Progress) Handle(s chunkuploader.Snapshot) {
	if s.State == chunkuploader.StateFailed && !s.Final {
		p.logger.Warnf("Chunk %d failed", s.Index)
	}

	now := p.now()
	if !s.Final && !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	p.logger.Printf("%s", FormatSnapshot(s))
}

// FormatSnapshot renders a single progress line.
func FormatSnapshot(s chunkuploader.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%5.1f%%] %d/%d chunks", s.Percent(), s.Completed, s.Total)
	if s.InFlight > 0 {
		fmt.Fprintf(&b, ", %d in flight", s.InFlight)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	fmt.Fprintf(&b, " | %s / %s", HumanSize(s.CompletedBytes), HumanSize(s.TotalBytes))
	fmt.Fprintf(&b, " | %s", HumanRate(s.Rate))
	if s.HasETA && !s.Final {
		fmt.Fprintf(&b, " | ETA %s", s.ETA.Round(time.Second))
	}
	return b.String()
}

// HumanSize ...
func HumanSize(bytes int64) string {
	return units.HumanSizeWithPrecision(float64(bytes), 3)
}

// HumanRate renders a throughput in binary units, matching the MiB/s rate option.
func HumanRate(bytesPerSecond float64) string {
	return units.BytesSize(bytesPerSecond) + "/s"
}

// PrintSummary logs the outcome of a run.
func PrintSummary(logger log.Logger, result *chunkuploader.UploadResult, err error) {
	if result == nil {
		return
	}

	logger.Println()
	logger.Infof("Upload summary")
	logger.Printf("Status: %s", result.Status)
	logger.Printf("Chunks: %d total, %d uploaded, %d skipped, %d failed, %d unfinished",
		result.Total, result.Uploaded, result.Skipped, len(result.Failed), len(result.Unfinished))
	logger.Printf("Sent: %s in %s (%s)", HumanSize(result.BytesSent), result.Duration.Round(time.Millisecond), HumanRate(result.Rate()))
	if result.AverageChunkDuration > 0 {
		logger.Printf("Average chunk duration: %s", result.AverageChunkDuration.Round(time.Millisecond))
	}

	for _, failure := range result.Failed {
		logger.Errorf("Chunk %d failed after %d attempt(s): %s", failure.Index, failure.Attempts, failure.Err)
	}
	if len(result.Unfinished) > 0 {
		logger.Warnf("Unfinished chunks: %s", resume.FormatRanges(result.Unfinished))
	}

	switch {
	case err == nil && result.Status == chunkuploader.StatusSucceeded:
		logger.Donef("All %d chunks uploaded", result.Total)
	case errors.Is(err, chunkuploader.ErrChunksFailed):
		logger.Errorf("Failed chunks: %s", resume.FormatRanges(result.FailedIndices()))
	}
}

// PendingIndices returns the sorted indices a follow-up run has to upload.
func PendingIndices(result *chunkuploader.UploadResult) []uint32 {
	if result == nil {
		return nil
	}
	indices := append(result.FailedIndices(), result.Unfinished...)
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// ResumeCommand builds the command line that continues the run. args is the original
// invocation without the chunk offset and retry file options. retryFile is omitted when empty.
func ResumeCommand(args []string, result *chunkuploader.UploadResult, retryFile string) string {
	pending := PendingIndices(result)
	if len(pending) == 0 {
		return ""
	}

	cmd := append([]string{}, args...)
	cmd = append(cmd, "--chunk-offset", fmt.Sprint(pending[0]))
	if retryFile != "" {
		cmd = append(cmd, "--retry-chunks-file", quote(retryFile))
	}
	return strings.Join(cmd, " ")
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\"'") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
