package poller

import (
	"math"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type randMock struct {
	mock.Mock
}

func (m *randMock) Float64() float64 {
	return m.Called().Get(0).(float64)
}

type BackoffSuite struct {
	suite.Suite
}

func (s *BackoffSuite) TestDelay_NoJitterAtMidpoint() {
	m := &randMock{}
	m.On("Float64").Return(0.5)
	b := NewBackoff(DefaultBackoffConfig(), m)

	s.Equal(60*time.Second, b.Delay(0))
	s.Equal(120*time.Second, b.Delay(1))
	s.Equal(240*time.Second, b.Delay(2))
	s.Equal(480*time.Second, b.Delay(3))
	s.Equal(600*time.Second, b.Delay(4))
	s.Equal(600*time.Second, b.Delay(100))
	m.AssertExpectations(s.T())
}

func (s *BackoffSuite) TestDelay_JitterEdges() {
	low := &randMock{}
	low.On("Float64").Return(0.0)
	b := NewBackoff(DefaultBackoffConfig(), low)
	// 0.75*60s would be 45s, floored at 60s
	s.Equal(60*time.Second, b.Delay(0))
	s.Equal(90*time.Second, b.Delay(1))
	s.Equal(450*time.Second, b.Delay(5))

	high := &randMock{}
	high.On("Float64").Return(0.999999)
	b = NewBackoff(DefaultBackoffConfig(), high)
	s.InDelta(float64(75*time.Second), float64(b.Delay(0)), float64(time.Millisecond))
	s.InDelta(float64(750*time.Second), float64(b.Delay(7)), float64(time.Millisecond))
}

func (s *BackoffSuite) TestDelay_WithinBounds() {
	b := NewBackoff(DefaultBackoffConfig(), rand.New(rand.NewSource(7)))
	for n := 0; n < 12; n++ {
		raw := math.Min(600, 60*math.Pow(2, float64(n)))
		lo := time.Duration(math.Max(60, 0.75*raw) * float64(time.Second))
		hi := time.Duration(raw * 1.25 * float64(time.Second))
		for i := 0; i < 200; i++ {
			d := b.Delay(n)
			s.GreaterOrEqual(d, lo, "n=%d", n)
			s.LessOrEqual(d, hi, "n=%d", n)
		}
	}
}

func (s *BackoffSuite) TestNewBackoff_Defaults() {
	b := NewBackoff(BackoffConfig{Base: time.Minute, Cap: time.Second}, nil)
	s.Equal(5, b.MaxRetries())
	s.Equal(time.Minute, b.cfg.Cap)
	s.Equal(0.25, b.cfg.Jitter)
}

func TestBackoffSuite(t *testing.T) {
	suite.Run(t, new(BackoffSuite))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	_, ok := RetryAfter(h)
	require.False(t, ok)

	h.Set("Retry-After", "5")
	d, ok := RetryAfter(h)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, d)

	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	_, ok = RetryAfter(h)
	require.False(t, ok)

	h.Set("Retry-After", "-3")
	_, ok = RetryAfter(h)
	require.False(t, ok)
}
