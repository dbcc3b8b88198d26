package repository

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/openfroyo/provengine/pkg/download"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/transports/ssh"
)

// RemoteClient is the subset of the SSH transport used by SFTPRepository.
type RemoteClient interface {
	Connect(ctx context.Context) error
	Stat(ctx context.Context, remotePath string) (os.FileInfo, error)
	Download(ctx context.Context, remotePath, localPath string) (*ssh.TransferResult, error)
	Close() error
}

// SFTPRepository serves artifacts from a directory on an SSH host.
type SFTPRepository struct {
	location string
	root     string
	client   RemoteClient
	opts     options

	mu        sync.Mutex
	connected bool
}

// NewSFTPRepository wraps client. The connection is opened on first use.
func NewSFTPRepository(location, root string, client RemoteClient, opts ...Option) *SFTPRepository {
	return &SFTPRepository{
		location: location,
		root:     root,
		client:   client,
		opts:     buildOptions("sftp-repository", opts),
	}
}

// OpenSFTP creates a repository for an sftp:// URL. base supplies
// credentials and host key settings not expressible in the URL; it may be nil.
func OpenSFTP(rawURL string, base *ssh.Config, opts ...Option) (*SFTPRepository, error) {
	cfg, root, err := ssh.ParseURL(rawURL, base)
	if err != nil {
		return nil, err
	}

	o := buildOptions("sftp-repository", opts)
	client, err := ssh.NewClient(cfg, o.logger)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", rawURL, err)
	}
	return NewSFTPRepository(fmt.Sprintf("sftp://%s%s", cfg.Address(), path.Join("/", root)), root, client, opts...), nil
}

// Location implements download.Repository.
func (s *SFTPRepository) Location() string {
	return s.location
}

// Path returns the remote path of key.
func (s *SFTPRepository) Path(key metadata.ArtifactKey) string {
	return path.Join(s.root, key.Classifier, key.Filename())
}

func (s *SFTPRepository) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	s.connected = true
	return nil
}

// Contains implements download.Repository. An unreachable host contains
// nothing.
func (s *SFTPRepository) Contains(key metadata.ArtifactKey) bool {
	ctx := context.Background()
	if err := s.connect(ctx); err != nil {
		s.opts.logger.WithError(err).Warn("repository unreachable")
		return false
	}
	info, err := s.client.Stat(ctx, s.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// Fetch implements download.Repository.
func (s *SFTPRepository) Fetch(requests []*download.Request, m *progress.Monitor) *status.Status {
	if err := s.connect(m.Context()); err != nil {
		st := status.NewMulti(source, fmt.Sprintf("fetch from %s", s.location))
		for _, r := range requests {
			r.SetResult(status.Error(source, fmt.Sprintf("failed to fetch %s from %s", r.Key, s.location), err))
			st.Add(r.Result())
		}
		return st
	}
	return fetchAll(s.location, requests, s.opts.workers, m, func(ctx context.Context, r *download.Request) error {
		res, err := s.client.Download(ctx, s.Path(r.Key), r.Destination)
		if err != nil {
			return err
		}
		s.opts.logger.WithFields(map[string]interface{}{
			"artifact": r.Key.String(),
			"bytes":    res.BytesTransferred,
			"sha256":   res.Checksum,
		}).Debug("artifact downloaded")
		return nil
	})
}

// Stop closes the connection. It satisfies engine.Stopper so the agent can
// release the repository at shutdown.
func (s *SFTPRepository) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	if err := s.client.Close(); err != nil {
		s.opts.logger.WithError(err).Warn("failed to close repository connection")
	}
	s.connected = false
}
