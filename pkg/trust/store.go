package trust

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrReadOnly is returned when adding an anchor to a read-only store.
var ErrReadOnly = errors.New("trust store is read-only")

// Store holds trust anchors.
type Store interface {
	Name() string
	ReadOnly() bool
	Certificates() ([]*x509.Certificate, error)
	AddTrustAnchor(cert *x509.Certificate, label string) error
}

// PEMStore is a trust store backed by a file of concatenated PEM
// certificates. A missing file is an empty store.
type PEMStore struct {
	path     string
	readOnly bool
	mu       sync.Mutex
}

// NewPEMStore opens the store at path.
func NewPEMStore(path string, readOnly bool) *PEMStore {
	return &PEMStore{path: path, readOnly: readOnly}
}

// Name implements Store.
func (s *PEMStore) Name() string { return s.path }

// ReadOnly implements Store.
func (s *PEMStore) ReadOnly() bool { return s.readOnly }

// Certificates implements Store.
func (s *PEMStore) Certificates() ([]*x509.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *PEMStore) load() ([]*x509.Certificate, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			return certs, nil
		}
		if block.Type != BlockCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid certificate in %s: %w", s.path, err)
		}
		certs = append(certs, cert)
	}
}

// AddTrustAnchor appends cert unless the store already holds it.
func (s *PEMStore) AddTrustAnchor(cert *x509.Certificate, label string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}
	for _, c := range existing {
		if bytes.Equal(c.Raw, cert.Raw) {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	block := &pem.Block{
		Type:    BlockCertificate,
		Headers: map[string]string{"Label": label},
		Bytes:   cert.Raw,
	}
	if err := pem.Encode(f, block); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
