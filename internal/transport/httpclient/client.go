// Package httpclient performs single HTTP round trips against an upstream.
// It never retries; retry policy belongs to the poll cycle.
package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
)

// ErrNetwork marks connection failures, timeouts and unreadable responses.
var ErrNetwork = errors.New("network error")

// ErrBodyTooLarge is returned when a response body exceeds the client's limit.
// The body is never handed over truncated.
var ErrBodyTooLarge = errors.New("response body too large")

const DefaultMaxBodyBytes int64 = 8 << 20

type Request struct {
	URL    string
	Header http.Header
	Query  url.Values
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	httpc     *http.Client
	userAgent string
	maxBody   int64
}

func New(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: newTransport(),
		},
		userAgent: userAgent,
		maxBody:   DefaultMaxBodyBytes,
	}
}

// newTransport offers h2 over TLS and falls back to HTTP/1.1 when the
// upstream does not negotiate it.
func newTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if err := http2.ConfigureTransport(tr); err != nil {
		slog.Warn("http2 not configured, using http/1.1", "error", err.Error())
	}
	return tr
}

// NewWithHTTPClient is used by tests to point the client at an httptest server.
func NewWithHTTPClient(httpc *http.Client, userAgent string) *Client {
	return &Client{httpc: httpc, userAgent: userAgent, maxBody: DefaultMaxBodyBytes}
}

func (c *Client) WithMaxBodyBytes(n int64) *Client {
	if n > 0 {
		c.maxBody = n
	}
	return c
}

// Do sends a GET and returns the raw response whatever its status code.
func (c *Client) Do(ctx context.Context, r Request) (Response, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return Response{}, errors.Wrap(err, "parse url")
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, errors.Wrap(err, "new request")
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Response{}, errors.Wrapf(ErrNetwork, "do request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Response{}, errors.Wrapf(ErrNetwork, "read body: %v", err)
	}
	if int64(len(body)) > c.maxBody {
		return Response{}, errors.Wrapf(ErrBodyTooLarge, "http %d: more than %d bytes", resp.StatusCode, c.maxBody)
	}

	return Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
