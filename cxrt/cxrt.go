// Package cxrt embeds the C runtime header that every generated extension
// includes, and fingerprints it so build caches can tell runtimes apart.
package cxrt

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sync"
)

// Dir is the embedded directory holding the runtime headers.
const Dir = "include"

// Header is the file name generated sources include.
const Header = "cexi.h"

//go:embed include
var files embed.FS

// FS returns the embedded runtime tree rooted at Dir.
func FS() fs.FS {
	return files
}

var (
	hashOnce sync.Once
	fullHash string
	hashErr  error
)

// Hash returns the SHA256 of every embedded runtime file, in walk order.
func Hash() (string, error) {
	hashOnce.Do(func() {
		h := sha256.New()
		hashErr = fs.WalkDir(files, Dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			data, err := files.ReadFile(path)
			if err != nil {
				return err
			}
			h.Write([]byte(path))
			h.Write(data)
			return nil
		})
		if hashErr != nil {
			hashErr = fmt.Errorf("walk embedded runtime: %w", hashErr)
			return
		}
		fullHash = hex.EncodeToString(h.Sum(nil))
	})
	return fullHash, hashErr
}

// ShortHash is the 8 character prefix of Hash, used for directory names and
// the CX_RUNTIME_ABI define.
func ShortHash() string {
	full, err := Hash()
	if err != nil {
		// the tree is compiled in, a walk error means a broken build
		panic(err)
	}
	return full[:8]
}

// IsHashDir returns true if name is an 8-char hex string (matches ShortHash format).
func IsHashDir(name string) bool {
	if len(name) != 8 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}
