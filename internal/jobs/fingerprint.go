package jobs

import (
	"fmt"
	"os"
)

// Fingerprint identifies a source file by size and mtime. Cheap enough to
// compute on every startup; a changed fingerprint under a running job means
// the file was edited mid-run and the job must not resume over it.
func Fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat source %s: %w", path, err)
	}
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().UnixNano()), nil
}
