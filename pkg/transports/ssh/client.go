// Package ssh provides the SSH/SFTP transport used to fetch artifacts from
// remote repositories.
package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openfroyo/provengine/pkg/telemetry"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "stat", "download")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// TransferResult describes a completed download.
type TransferResult struct {
	// BytesTransferred is the number of bytes written locally
	BytesTransferred int64

	// Checksum is the hex SHA256 of the downloaded content
	Checksum string

	// Duration is the time taken for the transfer
	Duration time.Duration
}

// Client is an SSH connection with one SFTP session on top. It is safe for
// concurrent use; SFTP requests are multiplexed over the connection.
type Client struct {
	config *Config
	logger *telemetry.Logger

	mu          sync.RWMutex
	conn        *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
	stop        chan struct{}
}

// NewClient validates config and creates an unconnected client.
func NewClient(config *Config, logger *telemetry.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		config: config,
		logger: telemetry.OrNop(logger).NewComponentLogger("ssh").WithField("address", config.Address()),
	}, nil
}

// Connect establishes the SSH connection and SFTP session. Connecting an
// already connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	address := c.config.Address()
	c.logger.Debug("establishing SSH connection")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()
		return &TransportError{Op: "connect", Err: err}
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	c.conn = conn
	c.sftp = sftpClient
	c.connectedAt = time.Now()
	c.stop = make(chan struct{})

	if c.config.KeepAliveInterval > 0 {
		go c.keepAlive(conn, c.stop)
	}

	c.logger.Info("SSH connection established")
	return nil
}

// Close closes the SFTP session and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	close(c.stop)
	_ = c.sftp.Close()
	err := c.conn.Close()
	c.conn = nil
	c.sftp = nil

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	c.logger.Debug("SSH connection closed")
	return nil
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) session() (*sftp.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sftp == nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("not connected")}
	}
	return c.sftp, nil
}

// Stat returns the attributes of a remote file.
func (c *Client) Stat(ctx context.Context, remotePath string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	info, err := s.Stat(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "stat", Err: err}
	}
	return info, nil
}

// Download copies a remote file to localPath. The content lands in a
// temporary file next to localPath and is renamed into place once complete.
func (c *Client) Download(ctx context.Context, remotePath string, localPath string) (*TransferResult, error) {
	start := time.Now()
	s, err := c.session()
	if err != nil {
		return nil, err
	}

	remoteFile, err := s.Open(remotePath)
	if err != nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to open remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to create local directory: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("failed to create local file: %w", err)}
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(tmp, hash), remoteFile)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &TransportError{
			Op:          "download",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: ctx.Err() == nil,
		}
	}

	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}

	result := &TransferResult{
		BytesTransferred: written,
		Checksum:         hex.EncodeToString(hash.Sum(nil)),
		Duration:         time.Since(start),
	}
	c.logger.WithFields(map[string]interface{}{
		"remote":   remotePath,
		"local":    localPath,
		"bytes":    written,
		"duration": result.Duration.String(),
	}).Debug("file downloaded")
	return result, nil
}

func (c *Client) keepAlive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.logger.WithError(err).WithField("retries", retries).Warn("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				c.logger.Error("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// copyWithContext copies src to dst, checking ctx between 32KB chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
