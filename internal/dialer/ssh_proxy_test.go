package dialer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/handoff/internal/testutil"
)

func TestSSHProxyDialerDialContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn1 := testutil.StartEchoTCPServer(t, ctx)
	echoLn2 := testutil.StartEchoTCPServer(t, ctx)

	sshLn, _ := startSSHDynamicForwardServer(ctx, t, "user", "pass")

	d, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}, sshLn.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	c1, err := d.DialContext(ctx, "tcp", echoLn1.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	// The second dial reuses the shared transport.
	c2, err := d.DialContext(ctx, "tcp", echoLn2.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))
}

func TestSSHProxyDialerChannelRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sshLn, _ := startSSHDynamicForwardServer(ctx, t, "user", "pass")

	d, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second}, sshLn.Addr().String(), "user", "pass")
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	_, err = d.DialContext(ctx, "tcp", testutil.RefusedAddr(t))
	var openErr *ssh.OpenChannelError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v want *ssh.OpenChannelError", err)
	}
}

func TestSSHProxyDialerKnownHosts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	sshLn, hostKey := startSSHDynamicForwardServer(ctx, t, "user", "pass")

	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherSigner, err := ssh.NewSignerFromKey(otherKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		key     ssh.PublicKey
		wantErr bool
	}{
		{name: "match", key: hostKey},
		{name: "mismatch", key: otherSigner.PublicKey(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "known_hosts")
			line := knownhosts.Line([]string{knownhosts.Normalize(sshLn.Addr().String())}, tt.key)
			if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
				t.Fatal(err)
			}

			d, err := NewSSHProxyDialer(Config{DialTimeout: 2 * time.Second, SSHKnownHostsPath: path}, sshLn.Addr().String(), "user", "pass")
			if err != nil {
				t.Fatal(err)
			}
			defer d.Close()

			c, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
			if tt.wantErr {
				if err == nil {
					_ = c.Close()
					t.Fatal("expected host key error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()
			testutil.AssertEcho(t, c, c, []byte("known"))
		})
	}
}

func TestSSHProxyDialerPrivateKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := NewSSHProxyDialer(Config{SSHKeyPath: path}, "ssh.example:22", "user", "")
	if err != nil {
		t.Fatal(err)
	}
	if n := len(d.config.Auth); n != 1 {
		t.Fatalf("got %d auth methods want 1", n)
	}

	if _, err := NewSSHProxyDialer(Config{SSHKeyPath: filepath.Join(t.TempDir(), "missing")}, "ssh.example:22", "user", ""); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

type directTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// startSSHDynamicForwardServer serves direct-tcpip channels for a single SSH
// client connection and returns the listener and the server's host key.
func startSSHDynamicForwardServer(ctx context.Context, t *testing.T, username, password string) (net.Listener, ssh.PublicKey) {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() != username || string(pass) != password {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(signer)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(ctx, c, cfg)
		}
	}()

	return ln, signer.PublicKey()
}

func serveSSHConn(ctx context.Context, c net.Conn, cfg *ssh.ServerConfig) {
	defer c.Close()

	_, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}

		var p directTCPIPPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &p); err != nil {
			_ = newChan.Reject(ssh.Prohibited, "bad direct-tcpip payload")
			continue
		}

		d := net.Dialer{}
		dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, fmt.Sprint(p.Port)))
		if err != nil {
			_ = newChan.Reject(ssh.ConnectionFailed, "dial failed")
			continue
		}

		ch, chReqs, err := newChan.Accept()
		if err != nil {
			_ = dst.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)

		go func() {
			defer ch.Close()
			defer dst.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				_, err := io.Copy(dst, ch)
				_ = dst.Close()
				return err
			})
			g.Go(func() error {
				_, err := io.Copy(ch, dst)
				_ = ch.Close()
				return err
			})
			_ = g.Wait()
		}()
	}
}
