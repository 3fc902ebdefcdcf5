package publish

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jonathan/site-deployer/internal/types"
)

// DryRunTarget writes sites into a local directory instead of a hosting provider
type DryRunTarget struct {
	root string
}

// NewDryRun creates a dry-run target rooted at dir
func NewDryRun(dir string) (*DryRunTarget, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory %s: %w", dir, err)
	}
	return &DryRunTarget{root: root}, nil
}

// Root returns the absolute output directory
func (t *DryRunTarget) Root() string { return t.root }

// Kind implements Target
func (t *DryRunTarget) Kind() string { return "dryrun" }

// CreateDestination makes the namespaced directory <root>/<name>.
// It fails when the directory already exists so destinations never mix files.
func (t *DryRunTarget) CreateDestination(_ context.Context, name string) (*Destination, error) {
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("destination name %q is not a local path", name)
	}
	if err := os.MkdirAll(t.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	dir := filepath.Join(t.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory %s: %w", name, err)
	}

	location := fileURL(dir)
	return &Destination{Name: name, RepoURL: location, PagesURL: location}, nil
}

// PutFiles writes every file below the destination directory
func (t *DryRunTarget) PutFiles(ctx context.Context, dest *Destination, files types.Files) (string, error) {
	dir := filepath.Join(t.root, dest.Name)
	for _, p := range files.Paths() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !filepath.IsLocal(filepath.FromSlash(p)) {
			return "", fmt.Errorf("file path %q escapes the destination", p)
		}
		if err := writeFileAtomic(filepath.Join(dir, filepath.FromSlash(p)), files[p]); err != nil {
			return "", err
		}
	}
	return TreeHash(files), nil
}

// EnableSite is a no-op; local files are served by opening them
func (t *DryRunTarget) EnableSite(context.Context, *Destination) error { return nil }

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

func fileURL(dir string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
}
