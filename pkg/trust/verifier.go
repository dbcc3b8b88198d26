package trust

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// PEM block types of a detached signature file.
const (
	BlockSignature   = "SIGNATURE"
	BlockCertificate = "CERTIFICATE"

	// SignatureSuffix is appended to an artifact path to locate its signature.
	SignatureSuffix = ".sig"
)

var (
	// ErrMalformedSignature is returned for signature files that cannot be parsed.
	ErrMalformedSignature = errors.New("malformed signature file")

	// ErrBadSignature is returned when a signature does not match the content.
	ErrBadSignature = errors.New("signature does not match content")
)

// SignerInfo is one signer of an artifact.
type SignerInfo struct {
	// Chain is leaf first.
	Chain   []*x509.Certificate
	Trusted bool
}

// Leaf returns the signing certificate.
func (s SignerInfo) Leaf() *x509.Certificate {
	if len(s.Chain) == 0 {
		return nil
	}
	return s.Chain[0]
}

// SignedContent describes the signature state of one artifact.
type SignedContent struct {
	Path    string
	Signed  bool
	Signers []SignerInfo
}

// Verifier inspects detached signatures. A signature for <path> lives in
// <path>.sig and holds one SIGNATURE block followed by the signer's
// certificate chain, leaf first. Chains are trusted when they verify
// against the anchors of the verifier's stores.
type Verifier struct {
	stores []Store
	now    func() time.Time
}

// NewVerifier creates a verifier trusting the anchors of stores.
func NewVerifier(stores ...Store) *Verifier {
	return &Verifier{stores: stores, now: time.Now}
}

// Inspect reads the artifact at path and its signature. A missing
// signature file means unsigned content. Malformed or mismatching
// signatures are errors.
func (v *Verifier) Inspect(path string) (*SignedContent, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path + SignatureSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return &SignedContent{Path: path}, nil
	}
	if err != nil {
		return nil, err
	}

	sig, chain, err := decodeSignature(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path+SignatureSuffix, err)
	}
	if err := checkSignature(chain[0], content, sig); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	trusted, err := v.trusted(chain)
	if err != nil {
		return nil, err
	}
	return &SignedContent{
		Path:    path,
		Signed:  true,
		Signers: []SignerInfo{{Chain: chain, Trusted: trusted}},
	}, nil
}

func (v *Verifier) trusted(chain []*x509.Certificate) (bool, error) {
	roots := x509.NewCertPool()
	anchors := 0
	for _, s := range v.stores {
		certs, err := s.Certificates()
		if err != nil {
			return false, fmt.Errorf("failed to read trust store %s: %w", s.Name(), err)
		}
		for _, c := range certs {
			roots.AddCert(c)
			anchors++
		}
	}
	if anchors == 0 {
		return false, nil
	}

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err == nil, nil
}

func decodeSignature(raw []byte) ([]byte, []*x509.Certificate, error) {
	var sig []byte
	var chain []*x509.Certificate
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case BlockSignature:
			if sig != nil {
				return nil, nil, fmt.Errorf("%w: multiple signatures", ErrMalformedSignature)
			}
			sig = block.Bytes
		case BlockCertificate:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
			}
			chain = append(chain, cert)
		}
	}
	if sig == nil || len(chain) == 0 {
		return nil, nil, fmt.Errorf("%w: signature and certificate required", ErrMalformedSignature)
	}
	return sig, chain, nil
}

func signatureAlgorithm(pub crypto.PublicKey) (x509.SignatureAlgorithm, error) {
	switch pub.(type) {
	case ed25519.PublicKey:
		return x509.PureEd25519, nil
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256, nil
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported public key type %T", pub)
	}
}

func checkSignature(leaf *x509.Certificate, content, sig []byte) error {
	algo, err := signatureAlgorithm(leaf.PublicKey)
	if err != nil {
		return err
	}
	if err := leaf.CheckSignature(algo, content, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// Sign writes a detached signature for the file at path.
func Sign(path string, key crypto.Signer, chain ...*x509.Certificate) error {
	if len(chain) == 0 {
		return errors.New("signing certificate required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sig []byte
	switch key.Public().(type) {
	case ed25519.PublicKey:
		sig, err = key.Sign(rand.Reader, content, crypto.Hash(0))
	default:
		digest := sha256.Sum256(content)
		sig, err = key.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: BlockSignature, Bytes: sig}); err != nil {
		return err
	}
	for _, c := range chain {
		if err := pem.Encode(&buf, &pem.Block{Type: BlockCertificate, Bytes: c.Raw}); err != nil {
			return err
		}
	}
	return os.WriteFile(path+SignatureSuffix, buf.Bytes(), 0644)
}
