package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func passwordConfig() *Config {
	c := DefaultConfig("example.com", "deploy")
	c.Password = "secret"
	return c
}

func TestValidate(t *testing.T) {
	keyPath := writeTestKey(t)

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"password auth", func(c *Config) {}, ""},
		{"key auth", func(c *Config) { c.Password = ""; c.PrivateKey = keyPath }, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host is required"},
		{"missing user", func(c *Config) { c.User = "" }, "user is required"},
		{"port zero", func(c *Config) { c.Port = 0 }, "port 0 out of range"},
		{"port too large", func(c *Config) { c.Port = 70000 }, "out of range"},
		{"zero timeout", func(c *Config) { c.ConnectionTimeout = 0 }, "connection_timeout"},
		{"negative keep-alive", func(c *Config) { c.KeepAliveInterval = -time.Second }, "keep_alive_interval"},
		{"unknown host key policy", func(c *Config) { c.HostKeyPolicy = "trusting" }, "host_key_policy must be one of"},
		{"missing key file", func(c *Config) { c.Password = ""; c.PrivateKey = "/nonexistent/key" }, "private key /nonexistent/key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := passwordConfig()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	c := DefaultConfig("example.com", "deploy")
	c.Port = 2222
	if got := c.Address(); got != "example.com:2222" {
		t.Errorf("expected example.com:2222, got %s", got)
	}
	c.Host = "::1"
	if got := c.Address(); got != "[::1]:2222" {
		t.Errorf("expected bracketed IPv6 address, got %s", got)
	}
}

func TestParseURL(t *testing.T) {
	c, root, err := ParseURL("sftp://deploy:pw@artifacts.example.com:2222/srv/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Address() != "artifacts.example.com:2222" || c.User != "deploy" || c.Password != "pw" {
		t.Errorf("unexpected config %s@%s", c.User, c.Address())
	}
	if root != "/srv/repo" {
		t.Errorf("expected root /srv/repo, got %s", root)
	}

	c, root, err = ParseURL("ssh://mirror.example.com", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != 22 || c.HostKeyPolicy != HostKeyStrict || root != "." {
		t.Errorf("expected defaults, got port %d policy %s root %s", c.Port, c.HostKeyPolicy, root)
	}

	for _, raw := range []string{"https://example.com/repo", "sftp://host:notaport/x", "sftp://%zz"} {
		if _, _, err := ParseURL(raw, nil); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestParseURLWithBase(t *testing.T) {
	base := &Config{
		Host:          "ignored.example.com",
		User:          "ci",
		PrivateKey:    "/etc/provengine/id_ed25519",
		HostKeyPolicy: HostKeyAcceptNew,
	}
	c, _, err := ParseURL("sftp://mirror.example.com/artifacts", base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Host != "mirror.example.com" || c.User != "ci" || c.PrivateKey != base.PrivateKey {
		t.Errorf("expected URL host with base credentials, got %+v", c)
	}
	if c.ConnectionTimeout != 30*time.Second || c.Port != 22 {
		t.Errorf("expected defaults for fields unset in base, got timeout %v port %d", c.ConnectionTimeout, c.Port)
	}
	if c.HostKeyPolicy != HostKeyAcceptNew {
		t.Errorf("expected base host key policy, got %s", c.HostKeyPolicy)
	}

	c, _, _ = ParseURL("sftp://other:pw@mirror.example.com:2200/", base)
	if c.User != "other" || c.Password != "pw" || c.Port != 2200 {
		t.Errorf("expected URL to override base, got %s@%s", c.User, c.Address())
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password", func(t *testing.T) {
		c := passwordConfig()
		c.HostKeyPolicy = HostKeyInsecure
		cc, err := c.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// password plus keyboard-interactive
		if cc.User != "deploy" || len(cc.Auth) != 2 || cc.Timeout != 30*time.Second {
			t.Errorf("unexpected client config %+v", cc)
		}
	})

	t.Run("key", func(t *testing.T) {
		c := DefaultConfig("example.com", "deploy")
		c.PrivateKey = writeTestKey(t)
		c.HostKeyPolicy = HostKeyInsecure
		cc, err := c.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cc.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(cc.Auth))
		}
	})

	t.Run("garbage key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "bad_key")
		if err := os.WriteFile(keyPath, []byte("not a key"), 0600); err != nil {
			t.Fatal(err)
		}
		c := DefaultConfig("example.com", "deploy")
		c.PrivateKey = keyPath
		if _, err := c.BuildSSHClientConfig(); err == nil {
			t.Error("expected error for unparsable key")
		}
	})

	t.Run("strict without known_hosts", func(t *testing.T) {
		c := passwordConfig()
		c.KnownHosts = ""
		if _, err := c.BuildSSHClientConfig(); err == nil {
			t.Error("expected error without a known_hosts file")
		}
	})
}

func TestAcceptNewHostKey(t *testing.T) {
	c := passwordConfig()
	c.KnownHosts = filepath.Join(t.TempDir(), "ssh", "known_hosts")
	c.HostKeyPolicy = HostKeyAcceptNew

	cb, err := c.hostKeyCallback()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}
	first := testHostKey(t)
	if err := cb("mirror.example.com:22", addr, first); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}
	data, err := os.ReadFile(c.KnownHosts)
	if err != nil || !strings.Contains(string(data), "mirror.example.com") {
		t.Fatalf("expected host to be recorded, got %q (%v)", data, err)
	}

	// A fresh callback sees the recorded key.
	cb, err = c.hostKeyCallback()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb("mirror.example.com:22", addr, first); err != nil {
		t.Errorf("expected recorded key to match, got %v", err)
	}
	if err := cb("mirror.example.com:22", addr, testHostKey(t)); err == nil {
		t.Error("expected a changed key to be rejected")
	}

	c.HostKeyPolicy = HostKeyStrict
	strict, err := c.hostKeyCallback()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := strict("unknown.example.com:22", addr, first); err == nil {
		t.Error("expected strict policy to reject an unknown host")
	}
}

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// writeTestKey writes a fresh ED25519 private key in OpenSSH format.
func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}
