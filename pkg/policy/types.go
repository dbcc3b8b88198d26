package policy

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// Policy is a Rego module taking part in trust decisions.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Certificate is the policy view of an X.509 certificate.
type Certificate struct {
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	Serial      string    `json:"serial"`
	Fingerprint string    `json:"fingerprint"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	IsCA        bool      `json:"is_ca"`
}

// NewCertificate converts cert for policy input.
func NewCertificate(cert *x509.Certificate) Certificate {
	return Certificate{
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		Serial:      cert.SerialNumber.String(),
		Fingerprint: Fingerprint(cert),
		NotBefore:   cert.NotBefore.UTC(),
		NotAfter:    cert.NotAfter.UTC(),
		IsCA:        cert.IsCA,
	}
}

// Fingerprint returns the hex SHA256 of the certificate's DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// TrustInput is the input document of a trust decision.
type TrustInput struct {
	// Chains holds one untrusted chain per signer, leaf first.
	Chains [][]Certificate `json:"chains"`

	// Unsigned lists the unsigned artifacts awaiting a decision.
	Unsigned []string `json:"unsigned"`

	// Timestamp is the evaluation time.
	Timestamp time.Time `json:"timestamp"`
}

// Decision is the result of the decision rule.
type Decision struct {
	// TrustUnsigned accepts the unsigned artifacts.
	TrustUnsigned bool `json:"trust_unsigned"`

	// Trusted lists the fingerprints of the leaf certificates to trust.
	Trusted []string `json:"trusted"`

	// Persist asks for trusted certificates to be stored.
	Persist bool `json:"persist"`

	// Reasons explains the decision for logs.
	Reasons []string `json:"reasons,omitempty"`
}
