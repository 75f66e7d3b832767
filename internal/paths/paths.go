// Package paths defines the on-disk layout: one root data directory with a
// per-account subtree (mirror database plus cache directories) keyed by the
// numeric self identity of the logged-in account.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves file locations under a single data root.
type Layout struct {
	base string
}

// New creates a layout rooted at base. An empty base falls back to ~/.obdesk.
func New(base string) *Layout {
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".obdesk")
	}
	return &Layout{base: base}
}

// Base returns the root data directory.
func (l *Layout) Base() string {
	return l.base
}

// AccountDir returns the per-account directory. A non-positive selfID means
// the identity is not known yet; such data lives directly under the root.
func (l *Layout) AccountDir(selfID int64) string {
	if selfID <= 0 {
		return l.base
	}
	return filepath.Join(l.base, fmt.Sprintf("user_%d", selfID))
}

// DBPath returns the mirror database path for an account.
func (l *Layout) DBPath(selfID int64) string {
	return filepath.Join(l.AccountDir(selfID), "mirror.db")
}

// AvatarCacheDir returns the identity-image cache directory for an account.
func (l *Layout) AvatarCacheDir(selfID int64) string {
	return filepath.Join(l.AccountDir(selfID), "avatars")
}

// MediaCacheDir returns the media cache directory for an account.
func (l *Layout) MediaCacheDir(selfID int64) string {
	return filepath.Join(l.AccountDir(selfID), "images")
}

// LogPath returns the daemon log file path.
func (l *Layout) LogPath() string {
	return filepath.Join(l.base, "logs", "obdeskd.log")
}

// ConfigPath returns the daemon config file path.
func (l *Layout) ConfigPath() string {
	return filepath.Join(l.base, "config.toml")
}

// EnsureAccountDir creates the account directory tree with owner-only perms.
func (l *Layout) EnsureAccountDir(selfID int64) error {
	return os.MkdirAll(l.AccountDir(selfID), 0700)
}
