package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAccountDirKeyedBySelfID(t *testing.T) {
	l := New("/data")

	if got := l.AccountDir(956279803); got != filepath.Join("/data", "user_956279803") {
		t.Errorf("AccountDir = %q", got)
	}
	// Unknown identity falls back to the shared root.
	if got := l.AccountDir(0); got != "/data" {
		t.Errorf("AccountDir(0) = %q, want /data", got)
	}
	if got := l.AccountDir(-1); got != "/data" {
		t.Errorf("AccountDir(-1) = %q, want /data", got)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := New("/data")

	if got := l.DBPath(7); !strings.HasSuffix(got, filepath.Join("user_7", "mirror.db")) {
		t.Errorf("DBPath = %q", got)
	}
	if got := l.AvatarCacheDir(7); !strings.HasSuffix(got, filepath.Join("user_7", "avatars")) {
		t.Errorf("AvatarCacheDir = %q", got)
	}
	if got := l.MediaCacheDir(7); !strings.HasSuffix(got, filepath.Join("user_7", "images")) {
		t.Errorf("MediaCacheDir = %q", got)
	}
	if got := l.ConfigPath(); got != filepath.Join("/data", "config.toml") {
		t.Errorf("ConfigPath = %q", got)
	}
}

func TestDefaultBase(t *testing.T) {
	l := New("")
	if !strings.HasSuffix(l.Base(), ".obdesk") {
		t.Errorf("default base = %q, want ~/.obdesk", l.Base())
	}
}
