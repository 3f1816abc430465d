// Package transport opens SFTP sessions authenticated with short-lived
// certificates. Dial failures and authentication failures surface as
// distinct error types so callers can retry the latter with a fresh
// certificate.
package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/internal/cert"
)

// ConnectError reports a failure to reach the server at all.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError reports a server that was reachable but refused the handshake
// or the presented credential.
type AuthError struct {
	Addr string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed at %s: %v", e.Addr, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CertSource provides the certificate to authenticate with.
// *certmgr.Manager satisfies it.
type CertSource interface {
	Current(ctx context.Context) (*cert.Record, error)
}

// Options configures session establishment.
type Options struct {
	Username string
	Timeout  time.Duration
	// HostKey pins the expected server host key. When nil the server key
	// is accepted unchecked; only use that against a trusted network.
	HostKey ssh.PublicKey
}

// Factory opens sessions using whatever certificate the source currently
// holds.
type Factory struct {
	certs CertSource
	opts  Options
}

// NewFactory creates a session factory.
func NewFactory(certs CertSource, opts Options) *Factory {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Factory{certs: certs, opts: opts}
}

// Open dials the server and establishes an authenticated SFTP session.
func (f *Factory) Open(ctx context.Context, host string, port int) (*Session, error) {
	rec, err := f.certs.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain client certificate: %w", err)
	}
	signer, err := rec.AuthSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to build certificate signer: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if f.opts.HostKey != nil {
		hostKeyCallback = ssh.FixedHostKey(f.opts.HostKey)
	}

	cfg := &ssh.ClientConfig{
		User:            f.opts.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         f.opts.Timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: f.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, &AuthError{Addr: addr, Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open sftp subsystem on %s: %w", addr, err)
	}

	s := &Session{
		ID:   uuid.NewString(),
		addr: addr,
		ssh:  client,
		sftp: sftpClient,
	}
	log.Printf("[transport] session opened: id=%s addr=%s serial=%s", s.ID, addr, rec.Serial)
	return s, nil
}

// Session is one authenticated SFTP connection.
type Session struct {
	ID   string
	addr string
	ssh  *ssh.Client
	sftp *sftp.Client
}

// List returns the entries of a remote directory.
func (s *Session) List(path string) ([]os.FileInfo, error) {
	infos, err := s.sftp.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	return infos, nil
}

// Stat returns metadata for one remote path.
func (s *Session) Stat(path string) (os.FileInfo, error) {
	info, err := s.sftp.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info, nil
}

// Download streams a remote file into w and returns the byte count.
func (s *Session) Download(path string, w io.Writer) (int64, error) {
	f, err := s.sftp.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("failed to download %s: %w", path, err)
	}
	return n, nil
}

// Close tears the session down.
func (s *Session) Close() error {
	sftpErr := s.sftp.Close()
	sshErr := s.ssh.Close()
	log.Printf("[transport] session closed: id=%s addr=%s", s.ID, s.addr)
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
