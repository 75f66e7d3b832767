package store

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/obdesk/obdesk/internal/paths"
)

// Manager hands out one migrated DB per account, opening lazily on first use.
// All callers for the same account share the same connection.
type Manager struct {
	layout *paths.Layout
	logger *zap.Logger

	mu  sync.Mutex
	dbs map[int64]*DB
}

// NewManager creates a manager over the given layout.
func NewManager(layout *paths.Layout, logger *zap.Logger) *Manager {
	return &Manager{
		layout: layout,
		logger: logger,
		dbs:    make(map[int64]*DB),
	}
}

// Get returns the mirror database for an account, opening and migrating it if
// this is the first request. A non-positive selfID maps to the root-level
// database used before the identity is known.
func (m *Manager) Get(selfID int64) (*DB, error) {
	if selfID < 0 {
		selfID = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.dbs[selfID]; ok {
		return db, nil
	}

	if err := m.layout.EnsureAccountDir(selfID); err != nil {
		return nil, fmt.Errorf("ensure account dir: %w", err)
	}

	path := m.layout.DBPath(selfID)
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	if result.Changed {
		m.logger.Info("database migrated",
			zap.Int64("self_id", selfID),
			zap.Uint("version", result.Version))
	}

	m.dbs[selfID] = db
	return db, nil
}

// CloseAll closes every open database. The manager can be reused afterwards;
// the next Get reopens.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, db := range m.dbs {
		if err := db.Close(); err != nil {
			m.logger.Warn("close database", zap.Int64("self_id", id), zap.Error(err))
		}
		delete(m.dbs, id)
	}
}
