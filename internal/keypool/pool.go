// Package keypool - pool.go rotates upstream credentials.
//
// DESIGN: One Pool holds every configured credential in configuration order.
// Selection is round-robin over the eligible subset:
//
//	eligible = !deprecated && (balance unknown || balance.remaining > skipThreshold)
//
// Deprecation is permanent (HTTP 402 with removeOnPaymentRequired). Skipping is
// not: a skipped record becomes eligible again once SetBalance raises its
// remaining balance above the threshold.
//
// All mutation goes through one mutex. The lock is never held across I/O.
package keypool

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Errors returned by the pool.
var (
	ErrNoAvailableCredential = errors.New("no available credential")
	ErrIndexOutOfRange       = errors.New("credential index out of range")
)

// OverrideIndex marks a lease that came from a client-supplied credential.
const OverrideIndex = -1

// Balance is a point-in-time view of a credential's allowance.
type Balance struct {
	TotalAllowance float64   `json:"totalAllowance"`
	Used           float64   `json:"used"`
	Remaining      float64   `json:"remaining"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// NewBalance builds a snapshot. Remaining is clamped at zero.
func NewBalance(total, used float64, fetchedAt time.Time) Balance {
	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}
	return Balance{TotalAllowance: total, Used: used, Remaining: remaining, FetchedAt: fetchedAt}
}

// record is one credential and its bookkeeping.
type record struct {
	secret       string
	success      uint64
	fail         uint64
	deprecated   bool
	deprecatedAt time.Time
	balance      *Balance
}

// Lease is the credential handed to one forward.
type Lease struct {
	Index  int    // Position in the pool, OverrideIndex for client-supplied credentials
	Secret string // Full value for the upstream Authorization header
}

// Pooled reports whether the lease came from the pool.
func (l Lease) Pooled() bool { return l.Index != OverrideIndex }

// Authorization returns the value for an Authorization header.
func (l Lease) Authorization() string { return bearer(l.Secret) }

// Token returns the credential without a Bearer prefix, for x-api-key style headers.
func (l Lease) Token() string {
	if hasBearerPrefix(l.Secret) {
		return strings.TrimSpace(l.Secret[len("Bearer "):])
	}
	return l.Secret
}

func hasBearerPrefix(s string) bool {
	return len(s) > 7 && strings.EqualFold(s[:7], "Bearer ")
}

func bearer(secret string) string {
	if hasBearerPrefix(secret) {
		return secret
	}
	return "Bearer " + secret
}

// Options configures a Pool.
type Options struct {
	Algorithm               string
	RemoveOnPaymentRequired bool
	SkipThreshold           float64
}

// Pool is the shared credential rotation state.
type Pool struct {
	mu            sync.Mutex
	records       []*record
	cursor        int // last selected index, -1 before the first acquire
	skipThreshold float64
	removeOn402   bool
	algorithm     string
	endpoints     map[string]*endpointStats
	endpointOrder []string
	now           func() time.Time
}

// New creates a pool from secrets in rotation order.
func New(secrets []string, opts Options) *Pool {
	p := &Pool{
		records:       make([]*record, 0, len(secrets)),
		cursor:        -1,
		skipThreshold: opts.SkipThreshold,
		removeOn402:   opts.RemoveOnPaymentRequired,
		algorithm:     opts.Algorithm,
		endpoints:     make(map[string]*endpointStats),
		now:           time.Now,
	}
	if p.algorithm == "" {
		p.algorithm = "round-robin"
	}
	for _, s := range secrets {
		p.records = append(p.records, &record{secret: s})
	}
	return p
}

// SetClock replaces the time source.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Len returns the number of records, deprecated ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// Acquire returns the credential for one forward.
// A non-empty override bypasses rotation and is returned as-is.
func (p *Pool) Acquire(override string) (Lease, error) {
	if override != "" {
		return Lease{Index: OverrideIndex, Secret: override}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.records)
	for step := 1; step <= n; step++ {
		idx := (p.cursor + step) % n
		if p.eligibleLocked(p.records[idx]) {
			p.cursor = idx
			return Lease{Index: idx, Secret: p.records[idx].secret}, nil
		}
	}
	return Lease{}, ErrNoAvailableCredential
}

func (p *Pool) eligibleLocked(r *record) bool {
	if r.deprecated {
		return false
	}
	return r.balance == nil || r.balance.Remaining > p.skipThreshold
}

// RecordResult books the outcome of a forward against the lease's credential
// and the endpoint's statistics. Override leases only touch endpoint stats.
// Reports whether this call deprecated the credential.
func (p *Pool) RecordResult(endpoint string, lease Lease, success bool, status int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	es, ok := p.endpoints[endpoint]
	if !ok {
		es = &endpointStats{}
		p.endpoints[endpoint] = es
		p.endpointOrder = append(p.endpointOrder, endpoint)
	}
	if success {
		es.success++
	} else {
		es.fail++
	}

	if !lease.Pooled() || lease.Index >= len(p.records) {
		return false
	}
	r := p.records[lease.Index]
	if success {
		r.success++
		return false
	}
	r.fail++

	if status == http.StatusPaymentRequired && p.removeOn402 && !r.deprecated {
		r.deprecated = true
		r.deprecatedAt = p.now()
		log.Warn().
			Int("index", lease.Index).
			Str("key", MaskSecret(r.secret)).
			Msg("credential deprecated after payment required")
		return true
	}
	return false
}

// SetBalance stores a fresh balance snapshot for the record at index.
func (p *Pool) SetBalance(index int, b Balance) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.records) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	snapshot := b
	p.records[index].balance = &snapshot
	return nil
}

// Secret returns the credential at index, for out-of-band balance checks.
func (p *Pool) Secret(index int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.records) {
		return "", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return p.records[index].secret, nil
}

// ActiveIndexes lists non-deprecated records in pool order.
func (p *Pool) ActiveIndexes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int, 0, len(p.records))
	for i, r := range p.records {
		if !r.deprecated {
			out = append(out, i)
		}
	}
	return out
}

// SetSkipThreshold updates the remaining-balance floor.
func (p *Pool) SetSkipThreshold(v float64) error {
	if v < 0 {
		return fmt.Errorf("skip threshold must be >= 0, got %v", v)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipThreshold = v
	return nil
}

// SkipThreshold returns the remaining-balance floor.
func (p *Pool) SkipThreshold() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipThreshold
}

// MaskSecret hides all but a prefix and suffix of a credential.
func MaskSecret(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	if len(secret) < 16 {
		return "***"
	}
	return secret[:8] + "..." + secret[len(secret)-4:]
}
