package policy

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/trust"
	"github.com/rs/zerolog"
)

func newCert(t *testing.T, name string, notAfter time.Time) *x509.Certificate {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-2 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func newService(t *testing.T, config map[string]interface{}) *TrustService {
	t.Helper()
	svc, err := NewTrustService(zerolog.New(nil).Level(zerolog.Disabled), config)
	if err != nil {
		t.Fatalf("Failed to create trust service: %v", err)
	}
	return svc
}

func TestNewTrustService(t *testing.T) {
	svc := newService(t, nil)
	policies := svc.Policies()
	if len(policies) != 1 || policies[0].Name != BuiltinPolicyName {
		t.Fatalf("Expected the built-in policy, got %v", policies)
	}
}

func TestTrustInfo_DefaultDeniesEverything(t *testing.T) {
	svc := newService(t, nil)
	cert := newCert(t, "vendor", time.Now().Add(time.Hour))

	info, err := svc.TrustInfo(context.Background(), [][]*x509.Certificate{{cert}}, []string{"/tmp/a.jar"})
	if err != nil {
		t.Fatalf("TrustInfo failed: %v", err)
	}
	if info.TrustUnsigned {
		t.Error("Expected unsigned content to be rejected by default")
	}
	if len(info.TrustedCertificates) != 0 {
		t.Errorf("Expected no trusted certificates, got %d", len(info.TrustedCertificates))
	}
}

func TestTrustInfo_TrustedByFingerprint(t *testing.T) {
	cert := newCert(t, "vendor", time.Now().Add(time.Hour))
	other := newCert(t, "other", time.Now().Add(time.Hour))
	svc := newService(t, map[string]interface{}{
		"trusted_fingerprints": []string{Fingerprint(cert)},
		"persist":              true,
	})

	info, err := svc.TrustInfo(context.Background(), [][]*x509.Certificate{{cert}, {other}}, nil)
	if err != nil {
		t.Fatalf("TrustInfo failed: %v", err)
	}
	if len(info.TrustedCertificates) != 1 || !info.TrustedCertificates[0].Equal(cert) {
		t.Fatalf("Expected only the configured certificate to be trusted, got %d", len(info.TrustedCertificates))
	}
	if !info.PersistTrust {
		t.Error("Expected persist from config")
	}
}

func TestTrustInfo_TrustedBySubjectAndUnsignedAllowed(t *testing.T) {
	cert := newCert(t, "vendor", time.Now().Add(time.Hour))
	svc := newService(t, map[string]interface{}{
		"trusted_subjects": []string{cert.Subject.String()},
		"allow_unsigned":   true,
	})

	info, err := svc.TrustInfo(context.Background(), [][]*x509.Certificate{{cert}}, []string{"/tmp/a.jar"})
	if err != nil {
		t.Fatalf("TrustInfo failed: %v", err)
	}
	if !info.TrustUnsigned {
		t.Error("Expected unsigned content to be accepted")
	}
	if len(info.TrustedCertificates) != 1 {
		t.Errorf("Expected 1 trusted certificate, got %d", len(info.TrustedCertificates))
	}
}

func TestTrustInfo_ExpiredChainNotTrusted(t *testing.T) {
	cert := newCert(t, "vendor", time.Now().Add(-time.Hour))
	svc := newService(t, map[string]interface{}{
		"trusted_fingerprints": []string{Fingerprint(cert)},
	})

	decision, err := svc.Evaluate(context.Background(), &TrustInput{
		Chains:    [][]Certificate{{NewCertificate(cert)}},
		Unsigned:  []string{},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(decision.Trusted) != 0 {
		t.Errorf("Expected expired certificate not to be trusted, got %v", decision.Trusted)
	}
	if len(decision.Reasons) != 1 {
		t.Errorf("Expected one reason, got %v", decision.Reasons)
	}
}

func TestLoadPolicies_OverridesBuiltin(t *testing.T) {
	svc := newService(t, nil)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, BuiltinPolicyName+".rego"), []byte(acceptAllPolicy), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := svc.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	cert := newCert(t, "anyone", time.Now().Add(time.Hour))
	info, err := svc.TrustInfo(context.Background(), [][]*x509.Certificate{{cert}}, []string{"/tmp/a.jar"})
	if err != nil {
		t.Fatalf("TrustInfo failed: %v", err)
	}
	if !info.TrustUnsigned || len(info.TrustedCertificates) != 1 {
		t.Errorf("Expected accept-all decision, got %+v", info)
	}
}

func TestLoadPolicies_InvalidKeepsPrevious(t *testing.T) {
	svc := newService(t, nil)

	broken := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(broken, []byte("package provengine.trust\n\ndecision := {"), 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	if err := svc.LoadPolicies(context.Background(), []string{broken}); err == nil {
		t.Fatal("Expected error for invalid policy")
	}
	if len(svc.Policies()) != 1 {
		t.Errorf("Expected previous policies to be kept, got %d", len(svc.Policies()))
	}
	if _, err := svc.TrustInfo(context.Background(), nil, nil); err != nil {
		t.Errorf("Expected service to keep working, got %v", err)
	}
}

func TestTrustServiceWithChecker(t *testing.T) {
	var _ trust.Service = (*TrustService)(nil)

	dir := t.TempDir()
	artifact := filepath.Join(dir, "a.jar")
	if err := os.WriteFile(artifact, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	checker := trust.NewChecker(trust.WithService(newService(t, nil)))
	checker.Add(artifact)
	if st := checker.Start(context.Background()); st.Severity != status.SeverityCancel {
		t.Errorf("Expected CANCEL for rejected unsigned content, got %s", st)
	}

	allowing := trust.NewChecker(trust.WithService(newService(t, map[string]interface{}{"allow_unsigned": true})))
	allowing.Add(artifact)
	if st := allowing.Start(context.Background()); !st.IsOK() {
		t.Errorf("Expected OK with allow_unsigned, got %s", st)
	}
}
