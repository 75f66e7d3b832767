package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/obdesk/obdesk/internal/paths"
)

// Manager hands out per-account caches under the layout's account dirs.
type Manager struct {
	layout   *paths.Layout
	resolver Resolver
	logger   *zap.Logger

	mu      sync.Mutex
	avatars map[int64]*Avatars
	media   map[int64]*Media
}

// NewManager creates a cache manager. resolver recovers expired media URLs
// through the active session.
func NewManager(layout *paths.Layout, resolver Resolver, logger *zap.Logger) *Manager {
	return &Manager{
		layout:   layout,
		resolver: resolver,
		logger:   logger,
		avatars:  make(map[int64]*Avatars),
		media:    make(map[int64]*Media),
	}
}

// Avatars returns the identity-image cache for an account.
func (m *Manager) Avatars(selfID int64) *Avatars {
	if selfID < 0 {
		selfID = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.avatars[selfID]
	if !ok {
		a = NewAvatars(m.layout.Base(), m.layout.AvatarCacheDir(selfID), m.logger)
		m.avatars[selfID] = a
	}
	return a
}

// Media returns the media cache for an account.
func (m *Manager) Media(selfID int64) *Media {
	if selfID < 0 {
		selfID = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.media[selfID]
	if !ok {
		md = NewMedia(m.layout.Base(), m.layout.MediaCacheDir(selfID), m.resolver, m.logger)
		m.media[selfID] = md
	}
	return md
}
