package sshconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/logger"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

const (
	defaultPoolCapacity = 5
	defaultIdleTimeout  = 5 * time.Minute
	defaultReapInterval = 30 * time.Second
)

// PoolOptions configure a connection pool.
type PoolOptions struct {
	// Capacity bounds live sessions per host.
	Capacity int
	// IdleTimeout closes sessions idle longer than this.
	IdleTimeout time.Duration
	// QueueTimeout bounds how long a checkout waits for a free session.
	// Zero means wait until the context is done.
	QueueTimeout time.Duration
	// ReapInterval is the idle-reaper tick.
	ReapInterval time.Duration
	Logger       *logger.Logger
}

// Pool maintains per-host bounded collections of live sessions. Sessions
// are created lazily, handed out one at a time, destroyed on session-level
// failure, and reaped when idle too long. Blocked checkouts are served
// FIFO per host.
type Pool struct {
	mu     sync.Mutex
	dialer Dialer
	opts   PoolOptions
	hosts  map[string]*hostPool
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type pooledSession struct {
	session  Session
	lastUsed time.Time
}

// waiter receives an idle session, or nil as a permit to dial a fresh one.
type waiter chan Session

type hostPool struct {
	host    config.Host
	idle    []*pooledSession
	inUse   int
	waiters []waiter
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	PoolSize  int
	Available int
	InUse     int
}

// NewPool creates a pool backed by the given dialer.
func NewPool(dialer Dialer, opts PoolOptions) *Pool {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultPoolCapacity
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}

	p := &Pool{
		dialer: dialer,
		opts:   opts,
		hosts:  make(map[string]*hostPool),
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reapLoop()

	return p
}

// Checkout acquires a session for the host, runs fn with it, and returns
// the session to the pool on every exit path. A callback error wrapping
// ErrSessionBroken destroys the session instead; the next checkout dials
// a replacement lazily.
func (p *Pool) Checkout(ctx context.Context, host config.Host, fn func(Session) error) error {
	session, err := p.acquire(ctx, host)
	if err != nil {
		return err
	}

	fnErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = Broken(fmt.Errorf("checkout callback panic: %v", r))
			}
		}()
		return fn(session)
	}()

	p.release(host, session, fnErr)
	return fnErr
}

// Bind fixes the host so callers can use WithConnection repeatedly.
func (p *Pool) Bind(host config.Host) *BoundPool {
	return &BoundPool{pool: p, host: host}
}

// BoundPool is a pool scoped to one host.
type BoundPool struct {
	pool *Pool
	host config.Host
}

// WithConnection runs fn with a session for the bound host.
func (b *BoundPool) WithConnection(ctx context.Context, fn func(Session) error) error {
	return b.pool.Checkout(ctx, b.host, fn)
}

func (p *Pool) acquire(ctx context.Context, host config.Host) (Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}

	hp := p.hosts[host.Name]
	if hp == nil {
		hp = &hostPool{host: host}
		p.hosts[host.Name] = hp
	}

	// Prefer the most recently used idle session; stale ones are left for
	// the reaper.
	if n := len(hp.idle); n > 0 {
		ps := hp.idle[n-1]
		hp.idle = hp.idle[:n-1]
		hp.inUse++
		p.mu.Unlock()
		return ps.session, nil
	}

	if hp.inUse < p.opts.Capacity {
		hp.inUse++
		p.mu.Unlock()
		return p.dialReserved(ctx, host)
	}

	// All sessions busy; queue FIFO behind earlier checkouts.
	w := make(waiter, 1)
	hp.waiters = append(hp.waiters, w)
	p.mu.Unlock()

	var queueTimer <-chan time.Time
	if p.opts.QueueTimeout > 0 {
		timer := time.NewTimer(p.opts.QueueTimeout)
		defer timer.Stop()
		queueTimer = timer.C
	}

	select {
	case session := <-w:
		if session == nil {
			// Permit to dial: the broken session's slot transferred here.
			return p.dialReserved(ctx, host)
		}
		return session, nil
	case <-queueTimer:
		p.abandonWaiter(host.Name, w)
		return nil, nexuserrors.NewTimeoutError(fmt.Sprintf("pool checkout for %s", host.Name))
	case <-ctx.Done():
		p.abandonWaiter(host.Name, w)
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("pool is closed")
	}
}

// dialReserved creates a session for an already-reserved slot, undoing the
// reservation on failure.
func (p *Pool) dialReserved(ctx context.Context, host config.Host) (Session, error) {
	session, err := p.dialer.Dial(ctx, host)
	if err != nil {
		p.mu.Lock()
		if hp := p.hosts[host.Name]; hp != nil {
			hp.inUse--
			p.wakeLocked(hp)
		}
		p.mu.Unlock()
		return nil, err
	}
	return session, nil
}

func (p *Pool) release(host config.Host, session Session, fnErr error) {
	broken := isBroken(fnErr) || !session.Alive()

	p.mu.Lock()
	hp := p.hosts[host.Name]
	if hp == nil || p.closed {
		p.mu.Unlock()
		_ = session.Close()
		return
	}

	if broken {
		hp.inUse--
		p.wakeLocked(hp)
		p.mu.Unlock()
		_ = session.Close()
		return
	}

	// Hand the live session straight to the first waiter, keeping the
	// in-use count; otherwise park it idle. The send happens under the
	// lock (the waiter channel is buffered) so dequeue and delivery are
	// atomic with respect to abandonWaiter.
	if len(hp.waiters) > 0 {
		w := hp.waiters[0]
		hp.waiters = hp.waiters[1:]
		w <- session
		p.mu.Unlock()
		return
	}

	hp.inUse--
	hp.idle = append(hp.idle, &pooledSession{session: session, lastUsed: time.Now()})
	p.mu.Unlock()
}

// wakeLocked grants the freed slot to the first waiter as a dial permit.
func (p *Pool) wakeLocked(hp *hostPool) {
	if len(hp.waiters) == 0 {
		return
	}
	w := hp.waiters[0]
	hp.waiters = hp.waiters[1:]
	hp.inUse++
	w <- nil
}

func (p *Pool) abandonWaiter(hostName string, w waiter) {
	p.mu.Lock()
	hp := p.hosts[hostName]
	if hp != nil {
		for i, queued := range hp.waiters {
			if queued == w {
				hp.waiters = append(hp.waiters[:i], hp.waiters[i+1:]...)
				p.mu.Unlock()
				return
			}
		}
	}
	p.mu.Unlock()

	// The waiter was already served between timeout and removal. Dequeue
	// and delivery are atomic under the pool lock, so the value is
	// guaranteed to be buffered by now; receive it and put it back into
	// circulation.
	session := <-w
	if session != nil {
		p.release(config.Host{Name: hostName}, session, nil)
		return
	}
	p.mu.Lock()
	if hp := p.hosts[hostName]; hp != nil {
		hp.inUse--
		p.wakeLocked(hp)
	}
	p.mu.Unlock()
}

// Stats reports aggregate occupancy across all hosts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats PoolStats
	for _, hp := range p.hosts {
		stats.Available += len(hp.idle)
		stats.InUse += hp.inUse
	}
	stats.PoolSize = stats.Available + stats.InUse
	return stats
}

// HostStats reports occupancy for a single host.
func (p *Pool) HostStats(hostName string) PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	hp := p.hosts[hostName]
	if hp == nil {
		return PoolStats{}
	}
	return PoolStats{
		PoolSize:  len(hp.idle) + hp.inUse,
		Available: len(hp.idle),
		InUse:     hp.inUse,
	}
}

// CloseAll terminates every idle session and shuts the pool down. Sessions
// currently checked out are closed when released.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)

	var toClose []Session
	for _, hp := range p.hosts {
		for _, ps := range hp.idle {
			toClose = append(toClose, ps.session)
		}
		hp.idle = nil
	}
	p.mu.Unlock()

	for _, session := range toClose {
		_ = session.Close()
	}

	p.wg.Wait()
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	cutoff := time.Now().Add(-p.opts.IdleTimeout)

	p.mu.Lock()
	var toClose []Session
	for _, hp := range p.hosts {
		kept := hp.idle[:0]
		for _, ps := range hp.idle {
			if ps.lastUsed.Before(cutoff) {
				toClose = append(toClose, ps.session)
			} else {
				kept = append(kept, ps)
			}
		}
		hp.idle = kept
	}
	p.mu.Unlock()

	for _, session := range toClose {
		_ = session.Close()
	}

	if len(toClose) > 0 && p.opts.Logger != nil {
		p.opts.Logger.WithFields(map[string]any{"reaped": len(toClose)}).Debug("closed idle sessions")
	}
}

func isBroken(err error) bool {
	return err != nil && errors.Is(err, ErrSessionBroken)
}
