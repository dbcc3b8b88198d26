package ssh

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy decides how unknown or changed host keys are handled.
type HostKeyPolicy string

const (
	// HostKeyStrict rejects hosts that are not in the known_hosts file.
	HostKeyStrict HostKeyPolicy = "strict"

	// HostKeyAcceptNew records the key of a host seen for the first time
	// and rejects hosts whose key changed.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"

	// HostKeyInsecure accepts any host key.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// Config describes the SSH connection to a remote artifact repository.
// Password authentication is used when Password is set, public key
// authentication otherwise.
type Config struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
	User string `yaml:"user" validate:"required"`

	Password string `yaml:"password,omitempty"`

	// PrivateKey is a key file path. When empty the usual keys under
	// ~/.ssh are tried.
	PrivateKey string `yaml:"private_key,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`

	KnownHosts    string        `yaml:"known_hosts,omitempty"`
	HostKeyPolicy HostKeyPolicy `yaml:"host_key_policy,omitempty" validate:"omitempty,oneof=strict accept-new insecure"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout" validate:"gt=0"`

	// KeepAliveInterval of 0 disables keep-alives. The connection is
	// dropped after MaxKeepAliveRetries consecutive failures.
	KeepAliveInterval   time.Duration `yaml:"keep_alive_interval,omitempty" validate:"gte=0"`
	MaxKeepAliveRetries int           `yaml:"max_keep_alive_retries,omitempty" validate:"gte=0"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	})
	return v
}()

func sshDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssh")
}

// DefaultConfig returns a config for user@host on port 22 with strict host
// key checking against ~/.ssh/known_hosts.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                host,
		Port:                22,
		User:                user,
		KnownHosts:          filepath.Join(sshDir(), "known_hosts"),
		HostKeyPolicy:       HostKeyStrict,
		ConnectionTimeout:   30 * time.Second,
		MaxKeepAliveRetries: 3,
	}
}

// ParseURL reads an sftp:// or ssh:// repository URL of the form
// user:password@host:port/path. Fields the URL does not carry come from
// the fields set in base, then from DefaultConfig; base.Host is ignored.
// The returned root is the URL path, "." when absent.
func ParseURL(raw string, base *Config) (*Config, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}
	if u.Scheme != "sftp" && u.Scheme != "ssh" {
		return nil, "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}

	cfg := *DefaultConfig(u.Hostname(), os.Getenv("USER"))
	if base != nil {
		cfg.overlay(base)
	}
	if p := u.Port(); p != "" {
		if cfg.Port, err = strconv.Atoi(p); err != nil {
			return nil, "", fmt.Errorf("invalid port in %q: %w", raw, err)
		}
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			cfg.User = name
		}
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}

	root := u.Path
	if root == "" {
		root = "."
	}
	return &cfg, root, nil
}

// overlay copies the fields set in o.
func (c *Config) overlay(o *Config) {
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.User != "" {
		c.User = o.User
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.PrivateKey != "" {
		c.PrivateKey = o.PrivateKey
		c.Passphrase = o.Passphrase
	}
	if o.KnownHosts != "" {
		c.KnownHosts = o.KnownHosts
	}
	if o.HostKeyPolicy != "" {
		c.HostKeyPolicy = o.HostKeyPolicy
	}
	if o.ConnectionTimeout != 0 {
		c.ConnectionTimeout = o.ConnectionTimeout
	}
	if o.KeepAliveInterval != 0 {
		c.KeepAliveInterval = o.KeepAliveInterval
	}
	if o.MaxKeepAliveRetries != 0 {
		c.MaxKeepAliveRetries = o.MaxKeepAliveRetries
	}
}

// Validate reports the first invalid field. Without a password a private
// key must be configured or found under ~/.ssh.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return fmt.Errorf("%s", describe(fieldErrs[0]))
		}
		return err
	}
	if c.Password != "" {
		return nil
	}
	key := c.keyFile()
	if key == "" {
		return fmt.Errorf("no password set and no private key found in %s", sshDir())
	}
	if _, err := os.Stat(key); err != nil {
		return fmt.Errorf("private key %s: %w", key, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "max":
		return fmt.Sprintf("%s %v out of range", fe.Field(), fe.Value())
	case "gt", "gte":
		return fmt.Sprintf("%s must not be negative or zero, got %v", fe.Field(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// keyFile returns the configured key or the first default key present.
func (c *Config) keyFile() string {
	if c.PrivateKey != "" {
		return c.PrivateKey
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(sshDir(), name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BuildSSHClientConfig resolves the credentials and the host key callback.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	if c.Password != "" {
		// Servers that only prompt through keyboard-interactive get the
		// password as the answer to every question.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
	}

	keyPath := c.keyFile()
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if c.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(c.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	policy := c.HostKeyPolicy
	if policy == "" {
		policy = HostKeyStrict
	}
	if policy == HostKeyInsecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if c.KnownHosts == "" {
		return nil, fmt.Errorf("host key policy %s needs a known_hosts file", policy)
	}

	if policy == HostKeyAcceptNew {
		if err := os.MkdirAll(filepath.Dir(c.KnownHosts), 0700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(c.KnownHosts, os.O_CREATE|os.O_RDONLY, 0600)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
	}
	known, err := knownhosts.New(c.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	if policy == HostKeyStrict {
		return known, nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			// Known and matching, or known with a different key.
			return err
		}
		return appendKnownHost(c.KnownHosts, hostname, remote, key)
	}, nil
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	defer f.Close()

	addrs := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if r := knownhosts.Normalize(remote.String()); r != addrs[0] {
			addrs = append(addrs, r)
		}
	}
	_, err = fmt.Fprintln(f, knownhosts.Line(addrs, key))
	return err
}
