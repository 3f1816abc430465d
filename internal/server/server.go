// Package server runs the SFTP daemon: an SSH listener that admits only
// certificate-authenticated clients and exposes one read-only directory
// tree through the SFTP subsystem.
package server

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ird0/sftpcert/internal/sandbox"
	"github.com/ird0/sftpcert/internal/verify"
)

const (
	// DefaultMaxSessions bounds concurrent client connections.
	DefaultMaxSessions = 32
	// DefaultIdleTimeout disconnects clients that go quiet.
	DefaultIdleTimeout = 5 * time.Minute
)

// Options configures the daemon listener.
type Options struct {
	Addr        string
	HostKey     ssh.Signer
	MaxSessions int
	IdleTimeout time.Duration
}

// Server accepts SSH connections, authenticates them against the verifier,
// and serves SFTP requests from the sandbox view.
type Server struct {
	cfg      *ssh.ServerConfig
	handlers sftp.Handlers
	opts     Options

	listener net.Listener
	sem      chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New wires the daemon together. The verifier owns the accept/reject
// decision; the server only translates its boolean into the SSH handshake.
func New(verifier *verify.Verifier, view *sandbox.View, opts Options) *Server {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if !verifier.Verify(conn.User(), conn.RemoteAddr().String(), key) {
				return nil, fmt.Errorf("permission denied")
			}
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(opts.HostKey)

	return &Server{
		cfg:      cfg,
		handlers: sandbox.Handlers(view),
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxSessions),
		stop:     make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = l
	log.Printf("[server] listening on %s", l.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				log.Printf("[server] accept failed: %v", err)
				return
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			log.Printf("[server] connection refused, session limit %d reached: remote=%s",
				s.opts.MaxSessions, conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	wrapped := &idleConn{Conn: conn, timeout: s.opts.IdleTimeout}
	sshConn, chans, reqs, err := ssh.NewServerConn(wrapped, s.cfg)
	if err != nil {
		// Rejections were already audited in the verifier callback.
		log.Printf("[server] handshake failed: remote=%s err=%v", conn.RemoteAddr(), err)
		return
	}
	defer sshConn.Close()
	log.Printf("[server] connection established: user=%s remote=%s", sshConn.User(), sshConn.RemoteAddr())

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Printf("[server] channel accept failed: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(channel, requests)
		}()
	}
}

// handleSession waits for the sftp subsystem request and hands the channel
// to the request server. Anything else is refused.
func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
			req.Reply(true, nil)
			srv := sftp.NewRequestServer(channel, s.handlers)
			if err := srv.Serve(); err != nil && err != io.EOF {
				log.Printf("[server] sftp session ended: %v", err)
			}
			srv.Close()
			return
		}
		req.Reply(false, nil)
	}
}

// Close stops accepting connections and waits for in-flight sessions.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	s.wg.Wait()
	return err
}

// idleConn resets the connection deadline on every read and write so a
// silent client is eventually disconnected.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		// SetDeadline only fails on a closed connection; the Read below
		// reports that.
		_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(b)
}
