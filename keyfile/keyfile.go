// Package keyfile manages the IndexNow ownership-verification key: a random
// hex key, a <key>.txt file at the site root, and the HTTP route serving it.
package keyfile

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateKey returns a random 32-character hex key.
func GenerateKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Path returns where the verification file for key lives under rootDir.
func Path(rootDir, key string) string {
	return filepath.Join(rootDir, key+".txt")
}

// RoutePath is the well-known URL path the provider fetches.
func RoutePath(key string) string {
	return "/" + key + ".txt"
}

// Write puts the verification file in place. An existing file is left alone.
func Write(rootDir, key string) (string, error) {
	path := Path(rootDir, key)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if err := os.WriteFile(path, []byte(key), 0o644); err != nil {
		return "", err
	}

	return path, nil
}

// Remove deletes the verification file. A missing file is not an error.
func Remove(rootDir, key string) error {
	err := os.Remove(Path(rootDir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// Handler serves the raw key as text/plain, marked noindex.
func Handler(key string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Robots-Tag", "noindex")
		_, _ = w.Write([]byte(key))
	})
}
