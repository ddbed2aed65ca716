package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ParcelPoll/internal/broker/messages"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type SnapshotCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Poller drives one session: it runs a cycle right away, then once per interval
// and on every Trigger. Cycles never overlap; ticks that fire while a cycle is
// running are dropped.
type Poller struct {
	session *Session
	cycle   *Cycle

	producer Producer
	topic    string

	cache    SnapshotCache
	cacheTTL time.Duration

	lease    Lease
	leaseTTL time.Duration

	pollInterval    time.Duration
	publishAttempts int
	publishBackoff  time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	completed           atomic.Bool

	mu          sync.Mutex
	outcomes    map[Outcome]int64
	lastOutcome Outcome
	lastError   string
}

func New(session *Session, cycle *Cycle) *Poller {
	return &Poller{
		session:           session,
		cycle:             cycle,
		pollInterval:      10 * time.Minute,
		leaseTTL:          45 * time.Minute,
		publishAttempts:   5,
		publishBackoff:    150 * time.Millisecond,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
		outcomes:          make(map[Outcome]int64),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	return p
}

// WithPublisher sends a DeliveriesUpdated message to topic after every finished cycle.
func (p *Poller) WithPublisher(producer Producer, topic string) *Poller {
	if producer != nil && topic != "" {
		p.producer = producer
		p.topic = topic
	}
	return p
}

func (p *Poller) WithSnapshotCache(cache SnapshotCache, ttl time.Duration) *Poller {
	if cache != nil && ttl > 0 {
		p.cache = cache
		p.cacheTTL = ttl
	}
	return p
}

// WithLease guards each cycle with a shared lease so that only one process
// polls a credential at a time. ttl must outlive the longest cycle.
func (p *Poller) WithLease(lease Lease, ttl time.Duration) *Poller {
	if lease != nil {
		p.lease = lease
		if ttl > 0 {
			p.leaseTTL = ttl
		}
	}
	return p
}

func (p *Poller) Session() *Session { return p.session }

func (p *Poller) Snapshot() Snapshot { return p.session.Snapshot() }

// Ready reports whether at least one cycle has finished.
func (p *Poller) Ready() bool { return p.completed.Load() }

// Trigger asks for an extra cycle (best-effort, non-blocking). Triggers that
// arrive while one is already queued are folded into it.
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time         `json:"startedAt"`
	LastCycleAt   *time.Time        `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time        `json:"lastTriggerAt,omitempty"`
	TotalCycles   int64             `json:"totalCycles"`
	TotalSkipped  int64             `json:"totalSkipped"`
	TotalErrors   int64             `json:"totalErrors"`
	Outcomes      map[Outcome]int64 `json:"outcomes"`
	LastOutcome   Outcome           `json:"lastOutcome,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalCycles:  p.totalCycles.Load(),
		TotalSkipped: p.totalSkipped.Load(),
		TotalErrors:  p.totalErrors.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.mu.Lock()
	st.Outcomes = make(map[Outcome]int64, len(p.outcomes))
	for k, v := range p.outcomes {
		st.Outcomes[k] = v
	}
	st.LastOutcome = p.lastOutcome
	st.LastError = p.lastError
	p.mu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	p.runOnce(ctx)

	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
		// a tick that came due during the cycle is not worth a second request
		select {
		case <-t.C:
		default:
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	leaseKey := "parcelpoll:" + p.session.Key() + ":lease"
	if p.lease != nil {
		ok, err := p.lease.TryAcquire(ctx, leaseKey, p.leaseTTL)
		switch {
		case err != nil:
			slog.Warn("poll lease unavailable, polling anyway", "session", p.session.ID(), "error", err.Error())
		case !ok:
			p.totalSkipped.Add(1)
			slog.Info("poll lease held elsewhere, skipping cycle", "session", p.session.ID())
			return
		default:
			defer func() {
				// release even when ctx is already canceled
				if err := p.lease.Release(context.WithoutCancel(ctx), leaseKey); err != nil {
					slog.Warn("release poll lease", "session", p.session.ID(), "error", err.Error())
				}
			}()
		}
	}

	outcome, err := p.cycle.Run(ctx, p.session)
	if outcome == OutcomeCanceled {
		return
	}
	p.record(outcome, err)

	snap := p.session.Snapshot()
	if err := p.storeSnapshot(ctx, snap); err != nil {
		slog.Warn("store snapshot", "session", p.session.ID(), "error", err.Error())
	}
	if err := p.publish(ctx, snap, err); err != nil {
		p.setLastError(err)
		slog.Error("publish deliveries", "session", p.session.ID(), "error", err.Error())
	}
}

func (p *Poller) record(outcome Outcome, err error) {
	p.totalCycles.Add(1)
	p.completed.Store(true)

	p.mu.Lock()
	p.outcomes[outcome]++
	p.lastOutcome = outcome
	p.mu.Unlock()

	if err != nil {
		p.totalErrors.Add(1)
		p.setLastError(err)
	}
}

func (p *Poller) setLastError(err error) {
	p.mu.Lock()
	p.lastError = err.Error()
	p.mu.Unlock()
}

func (p *Poller) storeSnapshot(ctx context.Context, snap Snapshot) error {
	if p.cache == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	return p.cache.Set(ctx, SnapshotCacheKey(p.session.Key()), b, p.cacheTTL)
}

func SnapshotCacheKey(sessionKey string) string {
	return "parcelpoll:" + sessionKey + ":snapshot"
}

func (p *Poller) publish(ctx context.Context, snap Snapshot, cycleErr error) error {
	if p.producer == nil {
		return nil
	}

	msg := messages.DeliveriesUpdated{
		SessionID:     snap.SessionID,
		Kind:          snap.Kind,
		CheckedAt:     time.Now().UTC(),
		Outcome:       string(snap.LastOutcome),
		Summary:       snap.Summary,
		LastSuccessAt: snap.LastSuccessAt,
		Deliveries:    snap.Records,
	}
	if cycleErr != nil {
		e := cycleErr.Error()
		msg.Error = &e
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	key := []byte(p.session.Key())
	var pubErr error
	for i := 0; i < p.publishAttempts; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, key, b); pubErr == nil {
			return nil
		}
		if err := sleepCtx(ctx, time.Duration(i+1)*p.publishBackoff); err != nil {
			break
		}
	}
	return pubErr
}
