// Package trust decides whether the artifacts of a transaction may be
// applied: signed content must chain to a trusted anchor and unsigned
// content must be allowed by policy or by an explicit decision.
package trust

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const source = "trust"

// Status codes produced by the checker.
const (
	CodeUnsignedNotAllowed  = "UNSIGNED_NOT_ALLOWED"
	CodeSignedContentError  = "SIGNED_CONTENT_ERROR"
	CodeCertificateRejected = "CERTIFICATE_REJECTED"
	CodeUnsignedRejected    = "UNSIGNED_REJECTED"
	CodeStoreError          = "TRUST_STORE_ERROR"
	CodeNoTrustService      = "TRUST_SERVICE_UNAVAILABLE"
)

// UnsignedPolicy decides how unsigned content is handled.
type UnsignedPolicy string

const (
	// UnsignedAllow accepts unsigned content without asking.
	UnsignedAllow UnsignedPolicy = "allow"

	// UnsignedPrompt asks the trust service about unsigned content.
	UnsignedPrompt UnsignedPolicy = "prompt"

	// UnsignedFail rejects any unsigned content.
	UnsignedFail UnsignedPolicy = "fail"
)

// Validate checks if the policy is valid.
func (p UnsignedPolicy) Validate() error {
	switch p {
	case UnsignedAllow, UnsignedPrompt, UnsignedFail:
		return nil
	default:
		return fmt.Errorf("invalid unsigned content policy: %s", p)
	}
}

// ParseUnsignedPolicy parses a policy name, defaulting to UnsignedPrompt
// for the empty string.
func ParseUnsignedPolicy(s string) (UnsignedPolicy, error) {
	if s == "" {
		return UnsignedPrompt, nil
	}
	p := UnsignedPolicy(strings.ToLower(s))
	return p, p.Validate()
}

// TrustInfo is the outcome of a trust decision.
type TrustInfo struct {
	// TrustedCertificates are the leaf certificates newly trusted.
	TrustedCertificates []*x509.Certificate

	// TrustUnsigned accepts the unsigned content presented.
	TrustUnsigned bool

	// PersistTrust asks for TrustedCertificates to be written to the stores.
	PersistTrust bool
}

// Service makes trust decisions. chains holds one untrusted chain per
// distinct signer, leaf first; unsigned lists the unsigned artifacts that
// need a decision. Either may be empty.
type Service interface {
	TrustInfo(ctx context.Context, chains [][]*x509.Certificate, unsigned []string) (TrustInfo, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, chains [][]*x509.Certificate, unsigned []string) (TrustInfo, error)

// TrustInfo implements Service.
func (f ServiceFunc) TrustInfo(ctx context.Context, chains [][]*x509.Certificate, unsigned []string) (TrustInfo, error) {
	return f(ctx, chains, unsigned)
}

// Option configures a Checker.
type Option func(*Checker)

// WithService sets the trust decision service.
func WithService(svc Service) Option {
	return func(c *Checker) {
		c.service = svc
	}
}

// WithStores sets the trust stores written to when trust is persisted.
func WithStores(stores ...Store) Option {
	return func(c *Checker) {
		c.stores = stores
	}
}

// WithPolicy sets the unsigned content policy.
func WithPolicy(p UnsignedPolicy) Option {
	return func(c *Checker) {
		c.policy = p
	}
}

// WithVerifier overrides the verifier. By default the checker verifies
// against its stores.
func WithVerifier(v *Verifier) Option {
	return func(c *Checker) {
		c.verifier = v
	}
}

// WithLogger sets the checker logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(c *Checker) {
		c.metrics = metrics
	}
}

// Checker gathers artifacts and checks their trust in one pass. A Checker
// belongs to one transaction and is not safe for concurrent use.
type Checker struct {
	service  Service
	stores   []Store
	policy   UnsignedPolicy
	verifier *Verifier
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	artifacts []string
}

// NewChecker creates a checker with the UnsignedPrompt policy.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{policy: UnsignedPrompt}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == "" {
		c.policy = UnsignedPrompt
	}
	if c.verifier == nil {
		c.verifier = NewVerifier(c.stores...)
	}
	c.logger = telemetry.OrNop(c.logger).NewComponentLogger("trust")
	return c
}

// Add queues an artifact file.
func (c *Checker) Add(path string) {
	c.artifacts = append(c.artifacts, path)
}

// AddAll queues several artifact files.
func (c *Checker) AddAll(paths ...string) {
	c.artifacts = append(c.artifacts, paths...)
}

// Artifacts returns the queued files.
func (c *Checker) Artifacts() []string {
	return append([]string(nil), c.artifacts...)
}

// Start checks every queued artifact. Content that needs a decision while
// no Service is configured is accepted with a WARNING coded
// CodeNoTrustService, not OK.
func (c *Checker) Start(ctx context.Context) *status.Status {
	st := c.check(ctx)
	c.metrics.RecordTrustDecision(st.Severity.String())
	return st
}

func (c *Checker) check(ctx context.Context) *status.Status {
	if len(c.artifacts) == 0 {
		return status.OK()
	}

	var unsigned []string
	var untrusted []*x509.Certificate
	var chains [][]*x509.Certificate
	for _, path := range c.artifacts {
		content, err := c.verifier.Inspect(path)
		if err != nil {
			st := status.Error(source, fmt.Sprintf("failed to read signed content of %s", path), err)
			st.Code = CodeSignedContentError
			return st
		}
		if !content.Signed {
			unsigned = append(unsigned, path)
			continue
		}
		for _, signer := range content.Signers {
			if signer.Trusted {
				continue
			}
			if indexOf(untrusted, signer.Leaf()) < 0 {
				untrusted = append(untrusted, signer.Leaf())
				chains = append(chains, signer.Chain)
			}
		}
	}

	if len(unsigned) > 0 && c.policy == UnsignedFail {
		st := status.Error(source, fmt.Sprintf("installing unsigned content is not allowed: %s", strings.Join(unsigned, ", ")), nil)
		st.Code = CodeUnsignedNotAllowed
		return st
	}

	var details []string
	if c.policy != UnsignedAllow {
		details = unsigned
	}
	if len(details) == 0 && len(chains) == 0 {
		return status.OK()
	}

	if c.service == nil {
		st := status.Warning(source, fmt.Sprintf("no trust service available; accepting %d unsigned and %d untrusted artifacts", len(details), len(chains)), nil)
		st.Code = CodeNoTrustService
		c.logger.Warn(st.Message)
		return st
	}

	info, err := c.service.TrustInfo(ctx, chains, details)
	if err != nil {
		return status.Error(source, "trust decision failed", err)
	}

	if len(details) > 0 && !info.TrustUnsigned {
		st := status.Cancel(source, "unsigned content rejected")
		st.Code = CodeUnsignedRejected
		return st
	}
	if len(chains) > 0 && len(info.TrustedCertificates) == 0 {
		return rejected()
	}
	for _, cert := range info.TrustedCertificates {
		if i := indexOf(untrusted, cert); i >= 0 {
			untrusted = append(untrusted[:i], untrusted[i+1:]...)
		}
	}
	if len(untrusted) > 0 {
		return rejected()
	}

	if info.PersistTrust && len(info.TrustedCertificates) > 0 {
		return c.persist(info.TrustedCertificates)
	}
	return status.OK()
}

func rejected() *status.Status {
	st := status.Cancel(source, "one or more certificates rejected, cannot install untrusted content")
	st.Code = CodeCertificateRejected
	return st
}

// persist writes certs to every writable store. Store failures are INFO so
// that an accepted install proceeds.
func (c *Checker) persist(certs []*x509.Certificate) *status.Status {
	result := status.NewMulti(source, "persist trusted certificates")
	for _, store := range c.stores {
		if store.ReadOnly() {
			continue
		}
		for _, cert := range certs {
			if err := store.AddTrustAnchor(cert, cert.Subject.String()); err != nil {
				st := status.Info(source, fmt.Sprintf("failed to add trust anchor to %s", store.Name()), err)
				st.Code = CodeStoreError
				result.Add(st)
				c.logger.WithError(err).WithField("store", store.Name()).Warn("failed to persist trusted certificate")
				break
			}
		}
	}
	return result
}

func indexOf(certs []*x509.Certificate, cert *x509.Certificate) int {
	for i, c := range certs {
		if bytes.Equal(c.Raw, cert.Raw) {
			return i
		}
	}
	return -1
}
