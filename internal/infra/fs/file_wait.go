package fs

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WaitForFile waits for a file to exist and be non-empty with exponential backoff
// Returns error if file doesn't appear within maxWait duration
func WaitForFile(ctx context.Context, filePath string, maxWait time.Duration) error {
	start := time.Now()
	attempt := 0
	baseDelay := 50 * time.Millisecond

	for {
		if info, err := os.Stat(filePath); err == nil && info.Size() > 0 {
			return nil
		}

		if time.Since(start) >= maxWait {
			return fmt.Errorf("timeout waiting for file %s after %v", filePath, maxWait)
		}

		// Exponential backoff with cap at 500ms
		delay := baseDelay * time.Duration(1<<attempt)
		if delay > 500*time.Millisecond {
			delay = 500 * time.Millisecond
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		attempt++
	}
}

// RemoveIfExists deletes path. A missing file is not an error; removed reports
// whether something was actually deleted.
func RemoveIfExists(path string) (removed bool, err error) {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return true, nil
}
