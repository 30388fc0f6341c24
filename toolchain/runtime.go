package toolchain

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/thiremani/cexi/cxrt"
)

// RuntimeDir is the cache subdirectory holding extracted runtime headers,
// one directory per runtime hash.
const RuntimeDir = "runtime"

const (
	keepRuntimes   = 5
	runtimeMinAge  = 7 * 24 * time.Hour
	hashMarkerFile = ".hash"
)

// extractRuntime writes the embedded runtime files to rtDir.
func extractRuntime(rtDir string) error {
	if err := os.MkdirAll(rtDir, 0755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	return fs.WalkDir(cxrt.FS(), cxrt.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		relPath, _ := filepath.Rel(cxrt.Dir, path)
		destPath := filepath.Join(rtDir, relPath)
		if d.IsDir() {
			return os.MkdirAll(destPath, 0755)
		}
		data, err := fs.ReadFile(cxrt.FS(), path)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", path, err)
		}
		return os.WriteFile(destPath, data, 0644)
	})
}

// cleanupOldRuntimes removes old runtime hash directories and returns the
// removed paths. It only deletes directories older than minAge and always
// keeps the keep most recent, so directories other processes still compile
// against survive.
func cleanupOldRuntimes(runtimeDir string, keep int, minAge time.Duration, logger *log.Logger) []string {
	entries, err := os.ReadDir(runtimeDir)
	if err != nil || len(entries) <= keep {
		return nil
	}

	type dirInfo struct {
		name  string
		mtime time.Time
	}
	var dirs []dirInfo
	for _, e := range entries {
		if e.IsDir() && cxrt.IsHashDir(e.Name()) {
			if info, err := e.Info(); err == nil {
				dirs = append(dirs, dirInfo{e.Name(), info.ModTime()})
			}
		}
	}
	if len(dirs) <= keep {
		return nil
	}

	var removed []string
	cutoff := time.Now().Add(-minAge)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mtime.Before(dirs[j].mtime) })
	for i := 0; i < len(dirs)-keep; i++ {
		if !dirs[i].mtime.Before(cutoff) {
			continue
		}
		path := filepath.Join(runtimeDir, dirs[i].name)
		if err := os.RemoveAll(path); err != nil {
			if logger != nil {
				logger.Warn("failed to remove old runtime", "path", path, "error", err)
			}
			continue
		}
		removed = append(removed, path)
	}
	return removed
}

// CleanRuntimes removes runtime directories under cacheDir beyond the keep
// most recent ones that are older than minAge. The current runtime counts
// toward keep like any other.
func CleanRuntimes(cacheDir string, keep int, minAge time.Duration, logger *log.Logger) ([]string, error) {
	runtimeDir := filepath.Join(cacheDir, RuntimeDir)
	if _, err := os.Stat(runtimeDir); os.IsNotExist(err) {
		return nil, nil
	}
	lock := flock.New(filepath.Join(runtimeDir, ".lock"))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire runtime lock: %w", err)
	}
	defer lock.Unlock()
	return cleanupOldRuntimes(runtimeDir, keep, minAge, logger), nil
}

// PrepareRuntime extracts the embedded runtime headers under cacheDir and
// returns the include directory. Extraction happens once per runtime hash;
// a file lock makes concurrent processes see either a complete directory or
// build it themselves.
func PrepareRuntime(cacheDir string, logger *log.Logger) (string, error) {
	runtimeDir := filepath.Join(cacheDir, RuntimeDir)
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return "", fmt.Errorf("create runtime dir: %w", err)
	}

	lock := flock.New(filepath.Join(runtimeDir, ".lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("acquire runtime lock: %w", err)
	}
	defer lock.Unlock()

	fullHash, err := cxrt.Hash()
	if err != nil {
		return "", err
	}
	rtDir := filepath.Join(runtimeDir, cxrt.ShortHash())
	hashFile := filepath.Join(rtDir, hashMarkerFile)

	if stored, err := os.ReadFile(hashFile); err == nil {
		if string(stored) == fullHash {
			if _, err := os.Stat(filepath.Join(rtDir, cxrt.Header)); err == nil {
				if logger != nil {
					logger.Debug("using cached runtime", "dir", rtDir)
				}
				return rtDir, nil
			}
		}
		// collision or a damaged cache
		if logger != nil {
			logger.Warn("runtime hash mismatch, re-extracting", "dir", rtDir)
		}
		os.RemoveAll(rtDir)
	}

	cleanupOldRuntimes(runtimeDir, keepRuntimes, runtimeMinAge, logger)

	if logger != nil {
		logger.Debug("extracting runtime", "dir", rtDir)
	}
	if err := extractRuntime(rtDir); err != nil {
		return "", err
	}
	// the marker goes last and doubles as the completion flag
	if err := os.WriteFile(hashFile, []byte(fullHash), 0644); err != nil {
		return "", fmt.Errorf("write hash file: %w", err)
	}
	return rtDir, nil
}
