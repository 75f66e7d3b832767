package cache

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Identity image kinds.
const (
	KindUser  = "user"
	KindGroup = "group"
)

// Avatars caches identity images, one directory per account. Entries are
// named <kind>_<hash>.png where the hash covers "<kind>:<id>". Returned paths
// are relative to the data root.
type Avatars struct {
	root   string
	dir    string
	logger *zap.Logger
	fetch  func(ctx context.Context, url string) ([]byte, error)
}

// NewAvatars creates an identity-image cache writing entries under dir, with
// returned paths made relative to root.
func NewAvatars(root, dir string, logger *zap.Logger) *Avatars {
	client := &http.Client{Timeout: avatarTimeout}
	return &Avatars{
		root:   root,
		dir:    dir,
		logger: logger,
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			return fetchBytes(ctx, client, url, "")
		},
	}
}

func avatarName(kind string, id int64) string {
	return fmt.Sprintf("%s_%s.png", kind, hashKey(fmt.Sprintf("%s:%d", kind, id)))
}

func avatarURL(kind string, id int64) string {
	if kind == KindGroup {
		return fmt.Sprintf("http://p.qlogo.cn/gh/%d/%d/640", id, id)
	}
	return fmt.Sprintf("http://q.qlogo.cn/headimg_dl?dst_uin=%d&spec=640&img_type=png", id)
}

// Get returns the data-root-relative path of the cached identity image,
// fetching when the entry is missing or older than seven days. A failed
// refresh degrades to the stale file when one exists.
func (a *Avatars) Get(ctx context.Context, kind string, id int64) (string, error) {
	if kind != KindGroup {
		kind = KindUser
	}
	path := filepath.Join(a.dir, avatarName(kind, id))
	if fresh(path, avatarTTL) {
		return relPath(a.root, path), nil
	}

	data, err := a.fetch(ctx, avatarURL(kind, id))
	if err != nil {
		if exists(path) {
			a.logger.Debug("serving stale identity image",
				zap.String("kind", kind), zap.Int64("id", id), zap.Error(err))
			return relPath(a.root, path), nil
		}
		return "", fmt.Errorf("%w: %s %d: %v", ErrNotFound, kind, id, err)
	}
	if err := writeEntry(path, data); err != nil {
		return "", err
	}
	return relPath(a.root, path), nil
}

// Check reports the data-root-relative path only when a fresh entry exists;
// it never fetches.
func (a *Avatars) Check(kind string, id int64) (string, bool) {
	if kind != KindGroup {
		kind = KindUser
	}
	path := filepath.Join(a.dir, avatarName(kind, id))
	if fresh(path, avatarTTL) {
		return relPath(a.root, path), true
	}
	return "", false
}

// Clear removes every cached identity image. Returns the number of files
// removed.
func (a *Avatars) Clear() (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, e.Name())); err != nil {
			a.logger.Warn("remove identity image", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
