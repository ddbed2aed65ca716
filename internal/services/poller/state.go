package poller

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/google/uuid"
)

const (
	SummaryInitializing      = "Initializing"
	SummaryNetworkError      = "Network Error"
	SummaryAPIError          = "API Error"
	SummaryInvalidData       = "Invalid Data"
	SummaryRateLimitExceeded = "Rate limit exceeded"
	SummaryUnknownError      = "Unknown Error"
)

func summaryRateLimited(k, n int) string {
	return fmt.Sprintf("Rate limited (retry %d/%d)", k, n)
}

// SummarizeRecords is the success summary: the number of deliveries not yet delivered.
func SummarizeRecords(recs []models.DeliveryRecord) string {
	return fmt.Sprintf("%d Active", ActiveCount(recs))
}

func ActiveCount(recs []models.DeliveryRecord) int {
	n := 0
	for _, r := range recs {
		if !r.IsDelivered() {
			n++
		}
	}
	return n
}

// Snapshot is a consistent, read-only view of a session's poll state.
type Snapshot struct {
	SessionID                   string                  `json:"sessionId"`
	Kind                        models.UpstreamKind     `json:"kind"`
	Summary                     string                  `json:"summary"`
	Records                     []models.DeliveryRecord `json:"records"`
	ConsecutiveRateLimitRetries int                     `json:"consecutiveRateLimitRetries"`
	LastSuccessAt               *time.Time              `json:"lastSuccessAt,omitempty"`
	LastOutcome                 Outcome                 `json:"lastOutcome,omitempty"`
}

// Session is the handle for one credential. Only the poll cycle writes to it;
// everyone else reads snapshots.
type Session struct {
	id   string
	key  string
	kind models.UpstreamKind

	mu   sync.RWMutex
	snap Snapshot
}

func NewSession(kind models.UpstreamKind, credential string) *Session {
	id := uuid.NewString()
	return &Session{
		id:   id,
		key:  CredentialKey(credential),
		kind: kind,
		snap: Snapshot{
			SessionID: id,
			Kind:      kind,
			Summary:   SummaryInitializing,
			Records:   []models.DeliveryRecord{},
		},
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Kind() models.UpstreamKind { return s.kind }

// Key identifies the credential in shared stores without revealing it.
func (s *Session) Key() string { return s.key }

func CredentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}

// Snapshot returns the state as of the last commit. Records are copied.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Records = slices.Clone(s.snap.Records)
	if s.snap.LastSuccessAt != nil {
		t := *s.snap.LastSuccessAt
		out.LastSuccessAt = &t
	}
	return out
}

// commit replaces the whole state in one step.
func (s *Session) commit(fn func(st *Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snap
	fn(&next)
	next.SessionID = s.id
	next.Kind = s.kind
	s.snap = next
}

func (s *Session) restore(prev Snapshot) {
	s.commit(func(st *Snapshot) { *st = prev })
}
