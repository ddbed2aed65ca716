// Package fake is an in-process upstream: it replays a script of responses
// and records every request it was given.
package fake

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
	"github.com/pkg/errors"
)

type Step struct {
	Response httpclient.Response
	Err      error
}

type Transport struct {
	mu       sync.Mutex
	steps    []Step
	last     *Step
	requests []httpclient.Request
}

func New(steps ...Step) *Transport {
	return &Transport{steps: steps}
}

// OK is a 200 step with the given body.
func OK(body string) Step {
	return Step{Response: httpclient.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}}
}

// Status is a bodiless step with the given status code.
func Status(code int) Step {
	return Step{Response: httpclient.Response{StatusCode: code, Header: http.Header{}}}
}

// TooManyRequests is a 429 step; retryAfter < 0 omits the Retry-After header.
func TooManyRequests(retryAfter int) Step {
	h := http.Header{}
	if retryAfter >= 0 {
		h.Set("Retry-After", strconv.Itoa(retryAfter))
	}
	return Step{Response: httpclient.Response{StatusCode: http.StatusTooManyRequests, Header: h}}
}

// NetworkFailure is a step that fails before any response is read.
func NetworkFailure() Step {
	return Step{Err: errors.Wrap(httpclient.ErrNetwork, "fake connection refused")}
}

func (t *Transport) Push(steps ...Step) {
	t.mu.Lock()
	t.steps = append(t.steps, steps...)
	t.mu.Unlock()
}

// Do pops the next step. The last step served repeats until more are pushed.
func (t *Transport) Do(ctx context.Context, r httpclient.Request) (httpclient.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, r)
	if err := ctx.Err(); err != nil {
		return httpclient.Response{}, errors.Wrapf(httpclient.ErrNetwork, "fake: %v", err)
	}
	if len(t.steps) > 0 {
		st := t.steps[0]
		t.steps = t.steps[1:]
		t.last = &st
	}
	if t.last == nil {
		return httpclient.Response{}, errors.New("fake transport: empty script")
	}
	return t.last.Response, t.last.Err
}

func (t *Transport) Requests() []httpclient.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]httpclient.Request(nil), t.requests...)
}

func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}
