package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingFetch struct {
	calls int
	urls  []string
	data  []byte
	errs  []error // consumed per call; nil entry means success
}

func (c *countingFetch) fn(_ context.Context, url string) ([]byte, error) {
	idx := c.calls
	c.calls++
	c.urls = append(c.urls, url)
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	return c.data, nil
}

func testAvatars(t *testing.T) (*Avatars, string) {
	t.Helper()
	root := t.TempDir()
	return NewAvatars(root, filepath.Join(root, "user_1", "avatars"), zap.NewNop()), root
}

func testMedia(t *testing.T, resolver Resolver) (*Media, string) {
	t.Helper()
	root := t.TempDir()
	return NewMedia(root, filepath.Join(root, "user_1", "images"), resolver, zap.NewNop()), root
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestSniffExt(t *testing.T) {
	cases := []struct{ url, want string }{
		{"https://cdn.example.com/img/photo.png", "png"},
		{"https://cdn.example.com/img/photo.jpeg?sig=abc.def", "jpeg"},
		{"https://cdn.example.com/img/photo", "jpg"},
		{"https://cdn.example.com/download?file=x", "jpg"},
		{"https://cdn.example.com/a.verylongextension1", "jpg"},
		{"https://cdn.example.com/archive.", "jpg"},
	}
	for _, tc := range cases {
		if got := sniffExt(tc.url); got != tc.want {
			t.Errorf("sniffExt(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestAvatarPathRelativeToDataRoot(t *testing.T) {
	a, root := testAvatars(t)
	cf := &countingFetch{data: []byte("png-bytes")}
	a.fetch = cf.fn

	p, err := a.Get(context.Background(), KindGroup, 900)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if filepath.IsAbs(p) {
		t.Fatalf("path is absolute: %q", p)
	}
	if filepath.Dir(p) != filepath.Join("user_1", "avatars") {
		t.Errorf("path = %q, want it under user_1/avatars", p)
	}
	// The relative path resolves against the data root.
	if _, err := os.Stat(filepath.Join(root, p)); err != nil {
		t.Errorf("entry not at root-resolved path: %v", err)
	}

	got, ok := a.Check(KindGroup, 900)
	if !ok || got != p {
		t.Errorf("check = %q, %v; want %q", got, ok, p)
	}
}

func TestAvatarFreshEntrySkipsFetch(t *testing.T) {
	a, _ := testAvatars(t)
	cf := &countingFetch{data: []byte("png-bytes")}
	a.fetch = cf.fn

	p1, err := a.Get(context.Background(), KindUser, 42)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if cf.calls != 1 {
		t.Fatalf("fetches = %d, want 1", cf.calls)
	}

	p2, err := a.Get(context.Background(), KindUser, 42)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if cf.calls != 1 {
		t.Errorf("fresh entry refetched, fetches = %d", cf.calls)
	}
	if p1 != p2 {
		t.Errorf("paths differ: %q vs %q", p1, p2)
	}
}

func TestAvatarExpiredEntryFetchesOnce(t *testing.T) {
	a, root := testAvatars(t)
	cf := &countingFetch{data: []byte("png-bytes")}
	a.fetch = cf.fn

	p, err := a.Get(context.Background(), KindUser, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	backdate(t, filepath.Join(root, p), 8*24*time.Hour)

	if _, err := a.Get(context.Background(), KindUser, 42); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if cf.calls != 2 {
		t.Errorf("fetches = %d, want 2", cf.calls)
	}
}

func TestAvatarStaleFallback(t *testing.T) {
	a, root := testAvatars(t)
	cf := &countingFetch{data: []byte("old")}
	a.fetch = cf.fn

	p, err := a.Get(context.Background(), KindGroup, 900)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	backdate(t, filepath.Join(root, p), 8*24*time.Hour)

	cf.errs = []error{nil, errors.New("network down")}
	p2, err := a.Get(context.Background(), KindGroup, 900)
	if err != nil {
		t.Fatalf("stale fallback errored: %v", err)
	}
	if p2 != p {
		t.Errorf("fallback path = %q, want %q", p2, p)
	}
	data, err := os.ReadFile(filepath.Join(root, p2))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "old" {
		t.Errorf("stale content = %q", data)
	}
}

func TestAvatarMissWithoutFileIsNotFound(t *testing.T) {
	a, _ := testAvatars(t)
	cf := &countingFetch{errs: []error{errors.New("refused")}}
	a.fetch = cf.fn

	_, err := a.Get(context.Background(), KindUser, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAvatarURLs(t *testing.T) {
	a, _ := testAvatars(t)
	cf := &countingFetch{data: []byte("x")}
	a.fetch = cf.fn

	if _, err := a.Get(context.Background(), KindUser, 42); err != nil {
		t.Fatalf("user get: %v", err)
	}
	if _, err := a.Get(context.Background(), KindGroup, 900); err != nil {
		t.Fatalf("group get: %v", err)
	}
	if cf.urls[0] != "http://q.qlogo.cn/headimg_dl?dst_uin=42&spec=640&img_type=png" {
		t.Errorf("user url = %q", cf.urls[0])
	}
	if cf.urls[1] != "http://p.qlogo.cn/gh/900/900/640" {
		t.Errorf("group url = %q", cf.urls[1])
	}
}

func TestAvatarCheckAndClear(t *testing.T) {
	a, root := testAvatars(t)
	cf := &countingFetch{data: []byte("x")}
	a.fetch = cf.fn

	if _, ok := a.Check(KindUser, 42); ok {
		t.Error("check hit on empty cache")
	}
	p, err := a.Get(context.Background(), KindUser, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, ok := a.Check(KindUser, 42)
	if !ok || got != p {
		t.Errorf("check = %q, %v", got, ok)
	}
	// Expired entries do not count as cached.
	backdate(t, filepath.Join(root, p), 8*24*time.Hour)
	if _, ok := a.Check(KindUser, 42); ok {
		t.Error("check hit on expired entry")
	}

	removed, err := a.Clear()
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(root, p)); !os.IsNotExist(err) {
		t.Errorf("file survived clear: %v", err)
	}
}

type fakeResolver struct {
	url   string
	err   error
	calls int
}

func (r *fakeResolver) ResolveMediaURL(string) (string, error) {
	r.calls++
	return r.url, r.err
}

func TestMediaPathRelativeToDataRoot(t *testing.T) {
	m, root := testMedia(t, nil)
	cf := &countingFetch{data: []byte("x")}
	m.fetch = cf.fn

	p, err := m.Get(context.Background(), "https://cdn.example.com/pic.png", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if filepath.IsAbs(p) {
		t.Fatalf("path is absolute: %q", p)
	}
	if filepath.Dir(p) != filepath.Join("user_1", "images") {
		t.Errorf("path = %q, want it under user_1/images", p)
	}
	if _, err := os.Stat(filepath.Join(root, p)); err != nil {
		t.Errorf("entry not at root-resolved path: %v", err)
	}
}

func TestMediaExpiredURLRecovery(t *testing.T) {
	resolver := &fakeResolver{url: "https://cdn.example.com/fresh.png"}
	m, root := testMedia(t, resolver)
	cf := &countingFetch{
		data: []byte("image-bytes"),
		errs: []error{&StatusError{Code: 404, URL: "https://cdn.example.com/dead.png"}, nil},
	}
	m.fetch = cf.fn

	p, err := m.Get(context.Background(), "https://cdn.example.com/dead.png", "file123.image")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cf.calls != 2 {
		t.Errorf("fetches = %d, want 2", cf.calls)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.calls)
	}
	if cf.urls[1] != "https://cdn.example.com/fresh.png" {
		t.Errorf("retry url = %q", cf.urls[1])
	}
	// The entry stays keyed by the original URL.
	if filepath.Base(p) != mediaName("https://cdn.example.com/dead.png") {
		t.Errorf("entry name = %q", filepath.Base(p))
	}
	data, err := os.ReadFile(filepath.Join(root, p))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "image-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestMediaRecoveryNeedsFileID(t *testing.T) {
	resolver := &fakeResolver{url: "https://cdn.example.com/fresh.png"}
	m, _ := testMedia(t, resolver)
	cf := &countingFetch{errs: []error{&StatusError{Code: 403}}}
	m.fetch = cf.fn

	_, err := m.Get(context.Background(), "https://cdn.example.com/dead.png", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver called without a file id")
	}
	if cf.calls != 1 {
		t.Errorf("fetches = %d, want 1", cf.calls)
	}
}

func TestMediaTransientFailureSkipsRecovery(t *testing.T) {
	resolver := &fakeResolver{url: "https://cdn.example.com/fresh.png"}
	m, _ := testMedia(t, resolver)
	cf := &countingFetch{errs: []error{&StatusError{Code: 500}}}
	m.fetch = cf.fn

	if _, err := m.Get(context.Background(), "https://cdn.example.com/x.png", "file123"); err == nil {
		t.Fatal("expected error")
	}
	if resolver.calls != 0 {
		t.Error("resolver called on a transient status")
	}
}

func TestMediaStaleFallbackAfterFailedRecovery(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("session gone")}
	m, root := testMedia(t, resolver)
	cf := &countingFetch{data: []byte("old")}
	m.fetch = cf.fn

	url := "https://cdn.example.com/pic.png"
	p, err := m.Get(context.Background(), url, "file123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	backdate(t, filepath.Join(root, p), 31*24*time.Hour)

	cf.errs = []error{nil, &StatusError{Code: 404}}
	p2, err := m.Get(context.Background(), url, "file123")
	if err != nil {
		t.Fatalf("stale fallback errored: %v", err)
	}
	if p2 != p {
		t.Errorf("fallback path = %q", p2)
	}
}

func TestMediaCheck(t *testing.T) {
	m, _ := testMedia(t, nil)
	cf := &countingFetch{data: []byte("x")}
	m.fetch = cf.fn

	url := "https://cdn.example.com/pic.png"
	if _, ok := m.Check(url); ok {
		t.Error("check hit on empty cache")
	}
	p, err := m.Get(context.Background(), url, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, ok := m.Check(url)
	if !ok || got != p {
		t.Errorf("check = %q, %v", got, ok)
	}
}
