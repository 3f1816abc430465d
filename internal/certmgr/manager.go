// Package certmgr owns the client's current certificate and keeps it valid.
//
// The manager is an explicit state machine. With no record it is
// uninitialized: the first caller obtains a certificate synchronously while
// all concurrent first callers wait behind the same lock, so the CA sees
// exactly one signing request. Once a record exists the read path is
// lock-free; when the record crosses the renewal threshold whichever caller
// notices first renews it under a try-lock while everyone else keeps using
// the still-valid cached record. A background tick runs the same renewal
// path as a safety net against silent on-demand failures.
package certmgr

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ird0/sftpcert/internal/cert"
	"github.com/ird0/sftpcert/internal/keys"
)

const (
	// DefaultTTL keeps certificates short-lived; a leaked key is useful
	// for minutes, not months.
	DefaultTTL = 15 * time.Minute
	// DefaultRenewalThreshold is how long before expiry renewal starts.
	DefaultRenewalThreshold = 5 * time.Minute
	// DefaultCheckInterval is the background renewal tick.
	DefaultCheckInterval = time.Minute
)

// Signer requests a certificate for a freshly generated key pair.
// *cavault.Client satisfies it.
type Signer interface {
	Sign(ctx context.Context, pair *keys.Pair, principal string, ttl time.Duration) (*cert.Record, error)
}

// RenewalSink receives renewal audit events. audit.Logger satisfies it.
type RenewalSink interface {
	Renewal(username, oldSerial, newSerial string, validUntil time.Time)
}

// NopSink discards renewal events. Selected at composition time when no
// audit log is wired in.
type NopSink struct{}

func (NopSink) Renewal(username, oldSerial, newSerial string, validUntil time.Time) {}

// Options configures a Manager. Zero durations take the package defaults.
type Options struct {
	Principal        string
	TTL              time.Duration
	RenewalThreshold time.Duration
	CheckInterval    time.Duration
	Audit            RenewalSink
}

// Manager coordinates certificate issuance and renewal for one principal.
// Safe for unbounded concurrent callers.
type Manager struct {
	signer    Signer
	principal string
	ttl       time.Duration
	threshold time.Duration
	interval  time.Duration
	audit     RenewalSink

	// current is the only mutable shared state; it is swapped atomically
	// so no caller ever observes a half-updated record.
	current atomic.Pointer[cert.Record]

	// mu guards the read-check-renew decision. The swap itself is atomic;
	// the lock exists so at most one signing request is in flight.
	mu sync.Mutex

	nowFn func() time.Time
	genFn func() (*keys.Pair, error)

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Manager. It performs no I/O; the first certificate is
// obtained on first use.
func New(signer Signer, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RenewalThreshold <= 0 {
		opts.RenewalThreshold = DefaultRenewalThreshold
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Audit == nil {
		opts.Audit = NopSink{}
	}
	return &Manager{
		signer:    signer,
		principal: opts.Principal,
		ttl:       opts.TTL,
		threshold: opts.RenewalThreshold,
		interval:  opts.CheckInterval,
		audit:     opts.Audit,
		nowFn:     time.Now,
		genFn:     keys.Generate,
		stop:      make(chan struct{}),
	}
}

// Current returns the current valid certificate record, obtaining or
// renewing one as needed. It fails only when no valid certificate exists
// and one cannot be obtained.
func (m *Manager) Current(ctx context.Context) (*cert.Record, error) {
	rec := m.current.Load()

	if rec == nil || rec.Expired(m.nowFn()) {
		// Uninitialized or expired: all callers block behind one
		// signing request.
		m.mu.Lock()
		rec = m.current.Load()
		if rec == nil || rec.Expired(m.nowFn()) {
			fresh, err := m.obtain(ctx)
			if err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("no valid certificate available: %w", err)
			}
			rec = fresh
		}
		m.mu.Unlock()
		return rec, nil
	}

	if rec.NeedsRenewal(m.nowFn(), m.threshold) {
		m.tryRenew(ctx)
		// Serve whatever is current now; on renewal failure that is the
		// stale-but-unexpired record.
		if fresh := m.current.Load(); fresh != nil {
			rec = fresh
		}
	}

	return rec, nil
}

// HasValid reports whether a non-expired certificate is cached.
func (m *Manager) HasValid() bool {
	rec := m.current.Load()
	return rec != nil && !rec.Expired(m.nowFn())
}

// Renew forces a renewal, blocking until it completes. Used when the server
// rejects a credential and the caller wants a fresh one before retrying.
func (m *Manager) Renew(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.obtain(ctx)
	return err
}

// tryRenew renews the current record if it still needs it, unless a renewal
// is already in flight, in which case it returns immediately. This is the
// single renewal path shared by on-demand callers and the background tick.
func (m *Manager) tryRenew(ctx context.Context) {
	if !m.mu.TryLock() {
		// Renewal in flight elsewhere; the caller keeps the cached record.
		return
	}
	defer m.mu.Unlock()

	rec := m.current.Load()
	if rec == nil || !rec.NeedsRenewal(m.nowFn(), m.threshold) {
		return
	}

	if _, err := m.obtain(ctx); err != nil {
		// A still-valid record keeps being served; expiry turns this
		// into a hard failure on the Current path.
		log.Printf("[certmgr] renewal failed, serving cached certificate until %s: %v",
			rec.ExpiresAt.Format(time.RFC3339), err)
	}
}

// obtain generates a fresh key pair, has it signed, and swaps the new
// record in. Callers must hold mu.
func (m *Manager) obtain(ctx context.Context) (*cert.Record, error) {
	pair, err := m.genFn()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	rec, err := m.signer.Sign(ctx, pair, m.principal, m.ttl)
	if err != nil {
		return nil, err
	}

	old := m.current.Swap(rec)
	if old != nil {
		log.Printf("[certmgr] certificate renewed: oldSerial=%s newSerial=%s expiresAt=%s",
			old.Serial, rec.Serial, rec.ExpiresAt.Format(time.RFC3339))
		m.audit.Renewal(m.principal, old.Serial, rec.Serial, rec.ExpiresAt)
	} else {
		log.Printf("[certmgr] initial certificate obtained: serial=%s expiresAt=%s",
			rec.Serial, rec.ExpiresAt.Format(time.RFC3339))
	}
	return rec, nil
}

// Start launches the background renewal tick. It stops when ctx is
// cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.tryRenew(ctx)
			}
		}
	}()
}

// Close stops the background tick and drops the cached record.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	m.current.Store(nil)
}
