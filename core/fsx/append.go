package fsx

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockTimeout    = 10 * time.Second
	lockRetry      = 10 * time.Millisecond
	lockStaleAfter = time.Minute
)

// AppendLines appends lines as one record under a sidecar lock file, so
// concurrent writers never interleave a record. Each line gets a trailing
// newline; lines must not contain one themselves.
func AppendLines(path string, lines []string, mode os.FileMode) error {
	cleanPath, err := localOrAbsolute(path)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	var payload bytes.Buffer
	for _, line := range lines {
		if strings.ContainsAny(line, "\r\n") {
			return fmt.Errorf("append line contains a newline")
		}
		payload.WriteString(line)
		payload.WriteByte('\n')
	}
	parent := filepath.Dir(cleanPath)
	if err := EnsureDir(parent); err != nil {
		return err
	}

	err = withLock(cleanPath+".lock", func() error {
		// #nosec G304 -- path validated by localOrAbsolute.
		file, openErr := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if openErr != nil {
			return fmt.Errorf("open append file: %w", openErr)
		}
		defer func() {
			_ = file.Close()
		}()
		if _, writeErr := file.Write(payload.Bytes()); writeErr != nil {
			return fmt.Errorf("append lines: %w", writeErr)
		}
		if syncErr := file.Sync(); syncErr != nil {
			return fmt.Errorf("sync append file: %w", syncErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	syncDirectory(parent)
	return nil
}

func withLock(lockPath string, fn func() error) error {
	start := time.Now()
	for {
		// #nosec G304 -- lock path derives from a validated path.
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lockFile.Close()
			defer func() {
				_ = os.Remove(lockPath)
			}()
			return fn()
		}
		if !lockContended(err, lockPath) {
			return fmt.Errorf("acquire append lock: %w", err)
		}
		if lockIsStale(lockPath, time.Now()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) >= lockTimeout {
			return fmt.Errorf("append lock timeout")
		}
		time.Sleep(lockRetry)
	}
}

func lockContended(acquireErr error, lockPath string) bool {
	if os.IsExist(acquireErr) {
		return true
	}
	if !os.IsPermission(acquireErr) {
		return false
	}
	_, statErr := os.Stat(lockPath)
	return statErr == nil
}

func lockIsStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > lockStaleAfter
}

func localOrAbsolute(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("append path is empty")
	}
	cleanPath := filepath.Clean(path)
	if filepath.IsLocal(cleanPath) || filepath.IsAbs(cleanPath) {
		return cleanPath, nil
	}
	return "", fmt.Errorf("path must be local relative or absolute")
}
