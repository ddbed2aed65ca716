package poller

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Rand interface {
	Float64() float64
}

type BackoffConfig struct {
	Base       time.Duration // default: 60s
	Cap        time.Duration // default: 600s
	Floor      time.Duration // default: 60s
	MaxRetries int           // default: 5
	Jitter     float64       // default: 0.25 (±25%)
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:       60 * time.Second,
		Cap:        600 * time.Second,
		Floor:      60 * time.Second,
		MaxRetries: 5,
		Jitter:     0.25,
	}
}

// Backoff decides how long a rate-limited cycle waits before asking again.
type Backoff struct {
	cfg BackoffConfig
	r   Rand
}

func NewBackoff(cfg BackoffConfig, r Rand) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Cap <= 0 {
		cfg.Cap = def.Cap
	}
	if cfg.Cap < cfg.Base {
		cfg.Cap = cfg.Base
	}
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Jitter <= 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Backoff{cfg: cfg, r: r}
}

func (b *Backoff) MaxRetries() int { return b.cfg.MaxRetries }

// Delay returns the wait before retry n (zero-based):
// min(Cap, Base*2^n) scaled by a uniform factor in [1-Jitter, 1+Jitter), never below Floor.
func (b *Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.cfg.Base
	for i := 0; i < n && d < b.cfg.Cap; i++ {
		d *= 2
	}
	if d > b.cfg.Cap {
		d = b.cfg.Cap
	}

	factor := 1 - b.cfg.Jitter + 2*b.cfg.Jitter*b.r.Float64()
	d = time.Duration(float64(d) * factor)
	if d < b.cfg.Floor {
		d = b.cfg.Floor
	}
	return d
}

// RetryAfter reads an integer-seconds Retry-After header.
func RetryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		return 0, false
	}
	return time.Duration(sec) * time.Second, true
}
