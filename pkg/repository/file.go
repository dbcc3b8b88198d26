package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openfroyo/provengine/pkg/download"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// FileRepository serves artifacts from a local directory.
type FileRepository struct {
	root string
	opts options
}

// NewFileRepository opens the repository rooted at dir.
func NewFileRepository(dir string, opts ...Option) (*FileRepository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid repository path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("repository %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository %q is not a directory", dir)
	}
	return &FileRepository{root: abs, opts: buildOptions("file-repository", opts)}, nil
}

// Location implements download.Repository.
func (f *FileRepository) Location() string {
	return "file://" + filepath.ToSlash(f.root)
}

// Path returns where key is stored.
func (f *FileRepository) Path(key metadata.ArtifactKey) string {
	return filepath.Join(f.root, key.Classifier, key.Filename())
}

// Contains implements download.Repository.
func (f *FileRepository) Contains(key metadata.ArtifactKey) bool {
	info, err := os.Stat(f.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// Fetch implements download.Repository.
func (f *FileRepository) Fetch(requests []*download.Request, m *progress.Monitor) *status.Status {
	f.opts.logger.WithField("root", f.root).Debugf("fetching %d artifacts", len(requests))
	return fetchAll(f.Location(), requests, f.opts.workers, m, f.copy)
}

func (f *FileRepository) copy(ctx context.Context, r *download.Request) error {
	src, err := os.Open(f.Path(r.Key))
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(r.Destination), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.Destination), "."+filepath.Base(r.Destination)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, readerWithContext{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.Destination)
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
