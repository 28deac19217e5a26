package vfskit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConnectionHandler owns one authenticated session with a server. Files
// borrow a handler from a ConnectionPool for each operation instead of
// owning a session, so reconnecting is invisible to them.
//
// Implementations must guard connect and close transitions with a mutex:
// the pool's monitor goroutine calls IsConnected, KeepAlive and
// CloseConnection concurrently with callers using the session.
type ConnectionHandler interface {
	// Realm is the server root the session belongs to.
	Realm() *FileURL

	// Credentials used to authenticate, or nil.
	Credentials() *Credentials

	// StartConnection connects and authenticates. Rejected credentials are
	// reported as an *AuthError.
	StartConnection(ctx context.Context) error

	IsConnected() bool

	// CloseConnection ends the session. Later operations on the handler
	// fail with ErrNotConnected until StartConnection is called again.
	CloseConnection() error

	// KeepAlive sends a no-op request to keep the session from timing out.
	KeepAlive(ctx context.Context) error
}

// ConnectionFactory creates an unconnected handler for a realm.
type ConnectionFactory func(realm *FileURL, creds *Credentials) ConnectionHandler

// PoolOption configures a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithIdleTimeout sets how long an unused connection stays open.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *ConnectionPool) { p.idleTimeout = d }
}

// WithKeepAliveInterval sets how often idle connections are kept alive. A
// zero interval disables keep-alives.
func WithKeepAliveInterval(d time.Duration) PoolOption {
	return func(p *ConnectionPool) { p.keepAlive = d }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l logrus.FieldLogger) PoolOption {
	return func(p *ConnectionPool) { p.log = l }
}

type poolEntry struct {
	id       string
	handler  ConnectionHandler
	users    int
	lastUsed time.Time
	lastPing time.Time
}

// ConnectionPool shares one ConnectionHandler per realm and credentials
// pair. A monitor goroutine closes connections idle longer than the idle
// timeout and keeps the others alive.
type ConnectionPool struct {
	mu          sync.Mutex
	entries     []*poolEntry
	idleTimeout time.Duration
	keepAlive   time.Duration
	log         logrus.FieldLogger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewConnectionPool creates a pool. The monitor starts with the first
// Acquire.
func NewConnectionPool(opts ...PoolOption) *ConnectionPool {
	p := &ConnectionPool{
		idleTimeout: 60 * time.Second,
		keepAlive:   30 * time.Second,
		log:         logrus.StandardLogger(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a connected handler for u's realm and credentials,
// creating one with factory when none is pooled. The release func must be
// called when the operation is done.
func (p *ConnectionPool) Acquire(ctx context.Context, u *FileURL, factory ConnectionFactory) (ConnectionHandler, func(), error) {
	if err := checkContext(ctx); err != nil {
		return nil, nil, err
	}
	select {
	case <-p.stop:
		return nil, nil, ErrNotConnected
	default:
	}
	p.startOnce.Do(func() { go p.monitor() })

	realm := u.Realm()
	p.mu.Lock()
	e := p.find(realm, u.Credentials)
	if e == nil {
		var creds *Credentials
		if u.Credentials != nil {
			c := *u.Credentials
			creds = &c
		}
		e = &poolEntry{id: uuid.NewString(), handler: factory(realm, creds)}
		p.entries = append(p.entries, e)
	}
	e.users++
	e.lastUsed = time.Now()
	p.mu.Unlock()

	log := p.log.WithFields(logrus.Fields{"realm": realm.String(), "conn": e.id})
	if !e.handler.IsConnected() {
		log.Info("opening connection")
		if err := e.handler.StartConnection(ctx); err != nil {
			p.release(e)
			p.remove(e)
			log.WithError(err).Warn("connection failed")
			return nil, nil, err
		}
	}

	var once sync.Once
	return e.handler, func() { once.Do(func() { p.release(e) }) }, nil
}

func (p *ConnectionPool) find(realm *FileURL, creds *Credentials) *poolEntry {
	for _, e := range p.entries {
		if e.handler.Realm().Equals(realm) && e.handler.Credentials().Equal(creds) {
			return e
		}
	}
	return nil
}

func (p *ConnectionPool) release(e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.users--
	e.lastUsed = time.Now()
}

func (p *ConnectionPool) remove(e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.entries {
		if x == e && x.users == 0 {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of pooled handlers.
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *ConnectionPool) monitor() {
	defer close(p.done)

	interval := p.idleTimeout / 2
	if p.keepAlive > 0 && p.keepAlive < interval {
		interval = p.keepAlive
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.sweep(now)
		}
	}
}

// sweep closes idle connections and pings the rest.
func (p *ConnectionPool) sweep(now time.Time) {
	var idle, ping []*poolEntry

	p.mu.Lock()
	kept := p.entries[:0]
	for _, e := range p.entries {
		switch {
		case e.users == 0 && now.Sub(e.lastUsed) >= p.idleTimeout:
			idle = append(idle, e)
		case !e.handler.IsConnected():
			if e.users > 0 {
				kept = append(kept, e)
			}
		default:
			kept = append(kept, e)
			if p.keepAlive > 0 && now.Sub(e.lastPing) >= p.keepAlive && now.Sub(e.lastUsed) >= p.keepAlive {
				e.lastPing = now
				ping = append(ping, e)
			}
		}
	}
	p.entries = kept
	p.mu.Unlock()

	for _, e := range idle {
		p.log.WithField("conn", e.id).Info("closing idle connection")
		if err := e.handler.CloseConnection(); err != nil {
			p.log.WithField("conn", e.id).WithError(err).Warn("close failed")
		}
	}
	for _, e := range ping {
		ctx, cancel := context.WithTimeout(context.Background(), p.keepAlive)
		if err := e.handler.KeepAlive(ctx); err != nil {
			p.log.WithField("conn", e.id).WithError(err).Warn("keep-alive failed")
		}
		cancel()
	}
}

// Close stops the monitor and closes every pooled connection.
func (p *ConnectionPool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		// done is closed here when the monitor never started
		p.startOnce.Do(func() { close(p.done) })
		<-p.done

		p.mu.Lock()
		entries := p.entries
		p.entries = nil
		p.mu.Unlock()

		for _, e := range entries {
			if cerr := e.handler.CloseConnection(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
