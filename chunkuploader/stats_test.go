package chunkuploader

import (
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	stats := NewStats()

	if stats.Accepted() != 0 {
		t.Errorf("Expected no accepted submissions, got %d", stats.Accepted())
	}
	if stats.Average() != 0 {
		t.Errorf("Expected 0 average before the first submission, got %v", stats.Average())
	}

	stats.Record(100 * time.Millisecond)
	stats.Record(200 * time.Millisecond)
	stats.Record(300 * time.Millisecond)

	if stats.Accepted() != 3 {
		t.Errorf("Expected 3 accepted submissions, got %d", stats.Accepted())
	}
	if stats.Average() != 200*time.Millisecond {
		t.Errorf("Expected 200ms average, got %v", stats.Average())
	}

	stats.reset()
	if stats.Accepted() != 0 || stats.Average() != 0 {
		t.Errorf("Expected empty stats after reset")
	}
}
