package cache

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"
)

// Resolver obtains a fresh download URL for a media file whose source URL
// expired. Backed by the active session.
type Resolver interface {
	ResolveMediaURL(fileID string) (string, error)
}

// Media caches downloaded media blobs keyed by the exact source URL.
// Returned paths are relative to the data root.
type Media struct {
	root     string
	dir      string
	resolver Resolver
	logger   *zap.Logger
	fetch    func(ctx context.Context, url string) ([]byte, error)
}

// NewMedia creates a media cache writing entries under dir, with returned
// paths made relative to root. resolver may be nil; expired URLs are then
// not recoverable.
func NewMedia(root, dir string, resolver Resolver, logger *zap.Logger) *Media {
	client := &http.Client{Timeout: mediaTimeout}
	return &Media{
		root:     root,
		dir:      dir,
		resolver: resolver,
		logger:   logger,
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			return fetchBytes(ctx, client, url, browserUA)
		},
	}
}

func mediaName(url string) string {
	return hashKey(url) + "." + sniffExt(url)
}

// Get returns the data-root-relative path of the cached blob for url,
// fetching when the entry is missing or older than thirty days. When the
// fetch fails with a status that
// marks the URL as expired and the caller supplied a file id, a fresh URL is
// resolved through the session and the fetch retried exactly once. The entry
// stays keyed by the original URL either way. A failed refresh degrades to
// the stale file when one exists.
func (m *Media) Get(ctx context.Context, url, fileID string) (string, error) {
	path := filepath.Join(m.dir, mediaName(url))
	if fresh(path, mediaTTL) {
		return relPath(m.root, path), nil
	}

	data, err := m.fetch(ctx, url)
	if err != nil && fileID != "" && m.resolver != nil && expiredStatus(err) {
		freshURL, rerr := m.resolver.ResolveMediaURL(fileID)
		if rerr != nil {
			m.logger.Warn("resolve expired media url",
				zap.String("file_id", fileID), zap.Error(rerr))
		} else {
			m.logger.Info("retrying media fetch with resolved url",
				zap.String("file_id", fileID))
			data, err = m.fetch(ctx, freshURL)
		}
	}
	if err != nil {
		if exists(path) {
			m.logger.Debug("serving stale media", zap.String("url", url), zap.Error(err))
			return relPath(m.root, path), nil
		}
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, url, err)
	}

	if err := writeEntry(path, data); err != nil {
		return "", err
	}
	return relPath(m.root, path), nil
}

// Check reports the data-root-relative path only when a fresh entry exists;
// it never fetches.
func (m *Media) Check(url string) (string, bool) {
	path := filepath.Join(m.dir, mediaName(url))
	if fresh(path, mediaTTL) {
		return relPath(m.root, path), true
	}
	return "", false
}
