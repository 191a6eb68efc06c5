package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const keyFilePrefix = "k"

// ToFilePathFunc maps a store folder and a key to the file holding the key's value.
type ToFilePathFunc func(basePath string, key string) string

// DefaultToFilePath places key under a 2-level folder hierarchy derived from the key's hash,
// which keeps per-directory file counts low on large stores. The file name is the hex
// encoded key behind a "k" so any key, the empty one included, is a valid name and List
// can recover it.
func DefaultToFilePath(basePath string, key string) string {
	return filepath.Join(basePath, Apply2LevelHierarchy(key), EncodeKey(key))
}

// Apply2LevelHierarchy maps a key to a folder pair using the first two hex digits of its hash.
// Example: sha256 "ab..." -> a/b.
func Apply2LevelHierarchy(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x%c%x", h[0]>>4, os.PathSeparator, h[0]&0xf)
}

// EncodeKey returns the file name of key.
func EncodeKey(key string) string {
	return keyFilePrefix + hex.EncodeToString([]byte(key))
}

// DecodeKey reverses EncodeKey. It reports false for names EncodeKey could not have produced.
func DecodeKey(name string) (string, bool) {
	if !strings.HasPrefix(name, keyFilePrefix) {
		return "", false
	}
	b, err := hex.DecodeString(name[len(keyFilePrefix):])
	if err != nil {
		return "", false
	}
	return string(b), true
}
