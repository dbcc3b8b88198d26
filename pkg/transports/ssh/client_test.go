package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// testSFTPServer is a minimal SSH server exposing the sftp subsystem over
// the local filesystem.
type testSFTPServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

func newTestSFTPServer(t *testing.T) *testSFTPServer {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSFTPServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()
	t.Cleanup(server.close)
	return server
}

func (s *testSFTPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSFTPServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSFTPServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
			if req.WantReply {
				req.Reply(true, nil)
			}
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		}
		if req.WantReply {
			req.Reply(false, nil)
		}
	}
}

func (s *testSFTPServer) close() {
	close(s.done)
	s.listener.Close()
}

func (s *testSFTPServer) clientConfig(t *testing.T) *Config {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(s.addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.Password = "testpass"
	config.HostKeyPolicy = HostKeyInsecure
	config.ConnectionTimeout = 5 * time.Second
	return config
}

func TestClientDownload(t *testing.T) {
	server := newTestSFTPServer(t)

	remoteDir := t.TempDir()
	content := []byte("artifact payload")
	remotePath := filepath.Join(remoteDir, "tool_1.0.0")
	if err := os.WriteFile(remotePath, content, 0644); err != nil {
		t.Fatalf("failed to write remote file: %v", err)
	}

	client, err := NewClient(server.clientConfig(t), nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	info, err := client.Stat(ctx, remotePath)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), info.Size())
	}

	localPath := filepath.Join(t.TempDir(), "nested", "tool_1.0.0")
	result, err := client.Download(ctx, remotePath, localPath)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("failed to read download: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("expected %q, got %q", content, got)
	}

	sum := sha256.Sum256(content)
	if result.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected checksum %s", result.Checksum)
	}
	if result.BytesTransferred != int64(len(content)) {
		t.Errorf("expected %d bytes, got %d", len(content), result.BytesTransferred)
	}
}

func TestClientStatMissing(t *testing.T) {
	server := newTestSFTPServer(t)

	client, err := NewClient(server.clientConfig(t), nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	if _, err := client.Stat(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestClientConnectBadPassword(t *testing.T) {
	server := newTestSFTPServer(t)

	config := server.clientConfig(t)
	config.Password = "wrong"
	client, err := NewClient(config, nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.Connect(context.Background())
	if err == nil {
		client.Close()
		t.Fatal("expected authentication failure")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Errorf("expected connect TransportError, got %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to stay disconnected")
	}
}

func TestClientNotConnected(t *testing.T) {
	config := DefaultConfig("example.com", "testuser")
	config.Password = "secret"

	client, err := NewClient(config, nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if _, err := client.Download(context.Background(), "/a", filepath.Join(t.TempDir(), "a")); err == nil {
		t.Error("expected error when not connected")
	}
	if err := client.Close(); err != nil {
		t.Errorf("expected close of unconnected client to succeed, got %v", err)
	}
}
