package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RotatePolicy controls session-log rotation (spec.md §4.A): logs older
// than CompressAfterDays are gzip-compressed in place, and compressed logs
// older than DeleteAfterDays are removed.
type RotatePolicy struct {
	CompressAfterDays int // default 14
	DeleteAfterDays   int // 0 disables deletion
}

// DefaultRotatePolicy matches the LOG_ROTATE_DAYS default in spec.md §6.
var DefaultRotatePolicy = RotatePolicy{CompressAfterDays: 14, DeleteAfterDays: 90}

// Rotate walks logDir applying policy. It is safe to call frequently; it
// only acts on files whose mtime crosses a threshold.
func Rotate(logDir string, policy RotatePolicy) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return fmt.Errorf("logger: rotate: read dir: %w", err)
	}
	if policy.CompressAfterDays <= 0 {
		policy.CompressAfterDays = 14
	}
	now := time.Now()
	compressBefore := now.AddDate(0, 0, -policy.CompressAfterDays)
	var deleteBefore time.Time
	if policy.DeleteAfterDays > 0 {
		deleteBefore = now.AddDate(0, 0, -policy.DeleteAfterDays)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(logDir, e.Name())

		if strings.HasSuffix(e.Name(), ".gz") {
			if !deleteBefore.IsZero() && info.ModTime().Before(deleteBefore) {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("logger: rotate: remove %s: %w", path, err)
				}
			}
			continue
		}

		if strings.HasSuffix(e.Name(), ".log") && info.ModTime().Before(compressBefore) {
			if err := compressFile(path); err != nil {
				return fmt.Errorf("logger: rotate: compress %s: %w", path, err)
			}
		}
	}
	return nil
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(path)
}
