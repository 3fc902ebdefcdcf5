package evaluation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/observability"
)

type memStore struct {
	mu        sync.Mutex
	pubs      []db.Publication
	results   []db.Result
	insertErr error
}

func (s *memStore) ListPublications(context.Context) ([]db.Publication, error) {
	return s.pubs, nil
}

func (s *memStore) InsertResult(_ context.Context, r *db.Result) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *r)
	return nil
}

func strPtr(s string) *string { return &s }

func publication(repoURL, pagesURL *string) db.Publication {
	return db.Publication{
		ID: uuid.New(), Timestamp: time.Now(), Email: "e@x.io", Task: "demo", Round: 1, Nonce: "n",
		RepoURL: repoURL, PagesURL: pagesURL,
	}
}

const mitText = "MIT License\n\nCopyright (c) 2026 someone\n"

func newGitHubFake(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /octo/on-master/master/LICENSE", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(mitText))
	})
	mux.HandleFunc("GET /octo/on-main/main/LICENSE", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(mitText))
	})
	mux.HandleFunc("GET /octo/apache/main/LICENSE", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Apache License 2.0"))
	})
	mux.HandleFunc("GET /pages/ok/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><span id="total-sales">150</span></body></html>`))
	})
	mux.HandleFunc("GET /pages/empty/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLicense_GitHub(t *testing.T) {
	srv := newGitHubFake(t)
	e := New(&memStore{}, Options{RawBaseURL: srv.URL}, observability.Discard())

	tests := []struct {
		repo   string
		passed bool
		reason string
	}{
		{"https://github.com/octo/on-main", true, "MIT found on main"},
		{"https://github.com/octo/on-master/", true, "MIT found on master"},
		{"https://github.com/octo/apache", false, "No MIT found on main/master"},
		{"https://github.com/octo/missing", false, "No MIT found on main/master"},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			pub := publication(strPtr(tt.repo), nil)
			got := e.CheckLicense(context.Background(), &pub)
			assert.Equal(t, tt.passed, got.Passed)
			assert.Equal(t, tt.reason, got.Reason)
			assert.NotEmpty(t, got.Logs)
		})
	}
}

func TestCheckLicense_NoRepo(t *testing.T) {
	e := New(&memStore{}, Options{}, observability.Discard())
	pub := publication(nil, nil)

	got := e.CheckLicense(context.Background(), &pub)
	assert.False(t, got.Passed)
	assert.Equal(t, "No repo url recorded", got.Reason)
}

func writeSite(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
}

func TestChecks_DryRunLocation(t *testing.T) {
	loc := writeSite(t, map[string]string{
		"LICENSE":    mitText,
		"index.html": `<html><body><section id="brief">Hello</section></body></html>`,
	})
	e := New(&memStore{}, Options{}, observability.Discard())
	pub := publication(strPtr(loc), strPtr(loc))

	license := e.CheckLicense(context.Background(), &pub)
	assert.True(t, license.Passed, license.Reason)

	page := e.CheckPage(context.Background(), &pub)
	assert.True(t, page.Passed, page.Reason)
	assert.Equal(t, "Required element exists: #brief", page.Reason)
}

func TestCheckLicense_NotMIT(t *testing.T) {
	loc := writeSite(t, map[string]string{"LICENSE": "All rights reserved"})
	e := New(&memStore{}, Options{}, observability.Discard())
	pub := publication(strPtr(loc), nil)

	got := e.CheckLicense(context.Background(), &pub)
	assert.False(t, got.Passed)
	assert.Equal(t, "LICENSE is not MIT", got.Reason)
}

func TestCheckLicense_S3FallsBackToPagesURL(t *testing.T) {
	loc := writeSite(t, map[string]string{"LICENSE": mitText})
	e := New(&memStore{}, Options{}, observability.Discard())

	pub := publication(strPtr("s3://bucket/demo-1/"), strPtr(loc))
	assert.True(t, e.CheckLicense(context.Background(), &pub).Passed)

	pub = publication(strPtr("s3://bucket/demo-1/"), nil)
	got := e.CheckLicense(context.Background(), &pub)
	assert.False(t, got.Passed)
	assert.Contains(t, got.Reason, "not fetchable")
}

func TestCheckPage(t *testing.T) {
	srv := newGitHubFake(t)
	e := New(&memStore{}, Options{}, observability.Discard())

	tests := []struct {
		name   string
		pages  *string
		passed bool
		reason string
	}{
		{"element present", strPtr(srv.URL + "/pages/ok/"), true, "Required element exists: #total-sales"},
		{"element missing", strPtr(srv.URL + "/pages/empty/"), false, "Element missing"},
		{"not found", strPtr(srv.URL + "/nope/"), false, ""},
		{"no pages url", nil, false, "No pages url recorded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := publication(nil, tt.pages)
			got := e.CheckPage(context.Background(), &pub)
			assert.Equal(t, tt.passed, got.Passed)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, got.Reason)
			} else {
				assert.Contains(t, got.Reason, "Error loading page")
			}
		})
	}
}

func TestCheckPage_LogsElementText(t *testing.T) {
	e := New(&memStore{}, Options{Render: func(context.Context, string) (string, error) {
		return `<html><body><script>var total = 0;</script><div id="total-sales">Total:
			<b>150</b></div><p>footer</p></body></html>`, nil
	}}, observability.Discard())

	pub := publication(nil, strPtr("https://octo.github.io/demo/"))
	got := e.CheckPage(context.Background(), &pub)
	require.True(t, got.Passed)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "TEXT Total: 150", got.Logs[1])
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b", excerpt("a\nb", 10))
	assert.Equal(t, "héll...", excerpt("héllo", 4))
}

func TestCheckPage_Render(t *testing.T) {
	var rendered string
	e := New(&memStore{}, Options{Render: func(_ context.Context, u string) (string, error) {
		rendered = u
		return `<div id="total-sales">150</div>`, nil
	}}, observability.Discard())

	pub := publication(nil, strPtr("https://octo.github.io/demo/"))
	got := e.CheckPage(context.Background(), &pub)
	assert.True(t, got.Passed)
	assert.Equal(t, "https://octo.github.io/demo/", rendered)

	e.opts.Render = func(context.Context, string) (string, error) { return "", errors.New("no chrome") }
	got = e.CheckPage(context.Background(), &pub)
	assert.False(t, got.Passed)
	assert.Equal(t, "Error loading page: no chrome", got.Reason)
}

func TestRun_WritesOneResultPerCheck(t *testing.T) {
	good := writeSite(t, map[string]string{
		"LICENSE":    mitText,
		"index.html": `<span id="total-sales">0</span>`,
	})
	store := &memStore{pubs: []db.Publication{
		publication(strPtr(good), strPtr(good)),
		publication(nil, nil),
		publication(strPtr(good), strPtr(good)),
	}}
	e := New(store, Options{Concurrency: 2}, observability.Discard())

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Len(t, store.results, 6)

	for i, r := range results {
		pub := store.pubs[i/2]
		assert.Equal(t, pub.Email, r.Email)
		assert.Equal(t, pub.RepoURL, r.RepoURL)
		if i%2 == 0 {
			assert.Equal(t, CheckLicense, r.CheckName)
		} else {
			assert.Equal(t, CheckPage, r.CheckName)
		}
	}
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 1.0, results[1].Score)
	assert.Equal(t, 0.0, results[2].Score)
	assert.Equal(t, 0.0, results[3].Score)
}

func TestRun_StoreError(t *testing.T) {
	store := &memStore{pubs: []db.Publication{publication(nil, nil)}, insertErr: errors.New("disk full")}
	e := New(store, Options{}, observability.Discard())

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestGithubRepo(t *testing.T) {
	owner, repo, ok := githubRepo("https://github.com/octo/site.git")
	require.True(t, ok)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "site", repo)

	_, _, ok = githubRepo("https://github.com/octo")
	assert.False(t, ok)
	_, _, ok = githubRepo("https://gitlab.com/octo/site")
	assert.False(t, ok)
}
