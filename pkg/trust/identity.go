package trust

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Identity is a signing key and its certificate chain, leaf first.
type Identity struct {
	Key   crypto.Signer
	Chain []*x509.Certificate
}

// NewIdentity creates an ed25519 key with a self-signed code signing
// certificate valid for validity. Adding the certificate to a trust store
// makes content signed by the identity trusted.
func NewIdentity(commonName string, validity time.Duration) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Identity{Key: priv, Chain: []*x509.Certificate{cert}}, nil
}

// Leaf returns the signing certificate.
func (id *Identity) Leaf() *x509.Certificate {
	return id.Chain[0]
}

// Sign writes a detached signature for the file at path.
func (id *Identity) Sign(path string) error {
	return Sign(path, id.Key, id.Chain...)
}

// Save writes the key as PKCS#8 PEM to keyPath (mode 0600) and the chain
// to certPath.
func (id *Identity) Save(keyPath, certPath string) error {
	der, err := x509.MarshalPKCS8PrivateKey(id.Key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600); err != nil {
		return err
	}

	var certs []byte
	for _, c := range id.Chain {
		certs = append(certs, pem.EncodeToMemory(&pem.Block{Type: BlockCertificate, Bytes: c.Raw})...)
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(certPath, certs, 0644)
}

// LoadIdentity reads an identity written by Save.
func LoadIdentity(keyPath, certPath string) (*Identity, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("%s: no PKCS#8 private key found", keyPath)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: key of type %T cannot sign", keyPath, key)
	}

	chain, err := NewPEMStore(certPath, true).Certificates()
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%s: %w", certPath, errors.New("no certificate found"))
	}
	return &Identity{Key: signer, Chain: chain}, nil
}
