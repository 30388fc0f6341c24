package toolchain

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// CacheEnv overrides the cache root.
const CacheEnv = "CEXI_CACHE"

const appName = "cexi"

// DefaultCacheDir returns $CEXI_CACHE, or the per-user cache directory of
// the platform.
func DefaultCacheDir() string {
	if env := os.Getenv(CacheEnv); env != "" {
		return env
	}

	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case OSWindows:
		if localAppData := os.Getenv("LocalAppData"); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		return filepath.Join(homeDir, "AppData", "Local", appName)

	case OSDarwin:
		return filepath.Join(homeDir, "Library", "Caches", appName)

	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(homeDir, ".cache", appName)
	}
}

// Copy copies the contents of the file at srcpath to a regular file at
// dstpath, truncating dstpath if it exists. Mode and attributes are not
// copied.
func Copy(srcpath, dstpath string) (err error) {
	r, err := os.Open(srcpath)
	if err != nil {
		return err
	}
	defer r.Close() // read-only

	w, err := os.Create(dstpath)
	if err != nil {
		return err
	}
	defer func() {
		// report the Close error only when there is no earlier one
		if c := w.Close(); err == nil {
			err = c
		}
	}()

	if _, err = io.Copy(w, r); err != nil {
		return fmt.Errorf("copy %s: %w", srcpath, err)
	}
	return nil
}
