package command

import (
	"context"

	"github.com/obdesk/obdesk/internal/cache"
)

// MediaService exposes the content cache for the active account.
type MediaService struct {
	caches   *cache.Manager
	identity identitySource
}

// NewMediaService creates the media command service.
func NewMediaService(caches *cache.Manager, identity identitySource) *MediaService {
	return &MediaService{caches: caches, identity: identity}
}

// IdentityImage returns the data-root-relative cached avatar path for a user
// or group; the UI resolves it through its asset scheme.
func (s *MediaService) IdentityImage(ctx context.Context, kind string, id int64) (string, error) {
	if id <= 0 {
		return "", validationError("id", "must be positive")
	}
	return s.caches.Avatars(s.identity.SelfID()).Get(ctx, kind, id)
}

// Media returns the data-root-relative cached blob path for a media URL.
// fileID enables expired-URL recovery and may be empty.
func (s *MediaService) Media(ctx context.Context, url, fileID string) (string, error) {
	if url == "" {
		return "", validationError("url", "is required")
	}
	return s.caches.Media(s.identity.SelfID()).Get(ctx, url, fileID)
}

// CheckMedia reports the cached path for a URL without fetching.
func (s *MediaService) CheckMedia(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	return s.caches.Media(s.identity.SelfID()).Check(url)
}

// ClearImageCache removes all cached identity images for the active account.
func (s *MediaService) ClearImageCache() (int, error) {
	return s.caches.Avatars(s.identity.SelfID()).Clear()
}
