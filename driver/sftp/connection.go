package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/vfskit"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is used when a URL has none.
const DefaultPort = 22

// Session is an open SFTP session. SSH is nil when the session does not
// run over an SSH client, as with in-process test servers.
type Session struct {
	Client *sftp.Client
	SSH    *ssh.Client
}

// Close ends the session.
func (s *Session) Close() error {
	err := s.Client.Close()
	if s.SSH != nil {
		if sshErr := s.SSH.Close(); err == nil {
			err = sshErr
		}
	}
	return err
}

// DialFunc opens a session to realm. Rejected credentials must be reported
// as a *vfskit.AuthError.
type DialFunc func(ctx context.Context, realm *vfskit.FileURL, creds *vfskit.Credentials) (*Session, error)

// SSHDialer returns the DialFunc used by default: password and public key
// authentication over TCP. An empty knownHostsFile accepts any host key.
func SSHDialer(privateKey []byte, knownHostsFile string, timeout time.Duration) DialFunc {
	return func(ctx context.Context, realm *vfskit.FileURL, creds *vfskit.Credentials) (*Session, error) {
		cfg := &ssh.ClientConfig{Timeout: timeout}
		if creds != nil {
			cfg.User = creds.Login
			if creds.Password != "" {
				cfg.Auth = append(cfg.Auth, ssh.Password(creds.Password))
			}
		}
		if len(privateKey) > 0 {
			signer, err := ssh.ParsePrivateKey(privateKey)
			if err != nil {
				return nil, fmt.Errorf("failed to parse private key: %w", err)
			}
			cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
		}
		if len(cfg.Auth) == 0 {
			return nil, vfskit.NewAuthError(realm, errors.New("no authentication method provided"))
		}

		if knownHostsFile != "" {
			cb, err := knownhosts.New(knownHostsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load known hosts: %w", err)
			}
			cfg.HostKeyCallback = cb
		} else {
			cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
		}

		port := realm.Port
		if port <= 0 {
			port = DefaultPort
		}
		addr := net.JoinHostPort(realm.Host, strconv.Itoa(port))

		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SSH: %w", err)
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			if strings.Contains(err.Error(), "unable to authenticate") {
				return nil, vfskit.NewAuthError(realm, err)
			}
			return nil, fmt.Errorf("failed to connect to SSH: %w", err)
		}
		sshClient := ssh.NewClient(c, chans, reqs)

		client, err := sftp.NewClient(sshClient)
		if err != nil {
			sshClient.Close()
			return nil, fmt.Errorf("failed to create SFTP client: %w", err)
		}
		return &Session{Client: client, SSH: sshClient}, nil
	}
}

// connection is the pooled handler of one SFTP session.
type connection struct {
	realm *vfskit.FileURL
	creds *vfskit.Credentials
	dial  DialFunc

	mu      sync.Mutex
	session *Session
}

var _ vfskit.ConnectionHandler = (*connection)(nil)

func (c *connection) Realm() *vfskit.FileURL           { return c.realm }
func (c *connection) Credentials() *vfskit.Credentials { return c.creds }

func (c *connection) StartConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	s, err := c.dial(ctx, c.realm, c.creds)
	if err != nil {
		return err
	}
	c.session = s
	return nil
}

func (c *connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

func (c *connection) CloseConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// KeepAlive sends an OpenSSH keep-alive request, or a realpath round trip
// when the session has no SSH client.
func (c *connection) KeepAlive(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if s.SSH != nil {
		_, _, err = s.SSH.SendRequest("keepalive@openssh.com", true, nil)
		return err
	}
	_, err = s.Client.Getwd()
	return err
}

// client returns the SFTP client, or ErrNotConnected after CloseConnection.
func (c *connection) client() (*sftp.Client, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.Client, nil
}

func (c *connection) current() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, vfskit.ErrNotConnected
	}
	return c.session, nil
}
