// Package cache is a content-addressed on-disk cache for remote media.
// Entries are hash-named files; mtime is the sole staleness signal, and a
// refresh always replaces the file wholesale.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound reports a miss with no stale file to fall back on.
var ErrNotFound = errors.New("cache: entry not found")

const (
	avatarTTL     = 7 * 24 * time.Hour
	mediaTTL      = 30 * 24 * time.Hour
	avatarTimeout = 10 * time.Second
	mediaTimeout  = 30 * time.Second

	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// StatusError is a fetch rejected by the origin with an HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// expiredStatus reports whether the failure suggests the source URL itself
// went bad rather than a transient outage.
func expiredStatus(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// hashKey derives the fixed-length filename stem for a cache key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// sniffExt guesses a file extension from a URL: the trailing dot-segment of
// the path, before any query string, capped at 10 characters. Anything else
// falls back to jpg.
func sniffExt(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	seg := url
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	i := strings.LastIndexByte(seg, '.')
	if i < 0 || i == len(seg)-1 {
		return "jpg"
	}
	ext := seg[i+1:]
	if len(ext) > 10 {
		return "jpg"
	}
	return ext
}

// relPath rewrites an on-disk entry path relative to the data root. The UI
// addresses cache files through a root-relative asset scheme, so callers get
// e.g. "user_956279803/avatars/<name>.png", never an absolute path.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

func fresh(path string, ttl time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < ttl
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeEntry(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

func fetchBytes(ctx context.Context, client *http.Client, url, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}
	return io.ReadAll(resp.Body)
}
