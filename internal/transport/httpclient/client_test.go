package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClient_Do_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/external/deliveries/", r.URL.Path)
		require.Equal(t, "active", r.URL.Query().Get("filter_mode"))
		require.Equal(t, "k", r.Header.Get("api-key"))
		require.Equal(t, "parcelpoll-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.Client(), "parcelpoll-test")
	resp, err := c.Do(context.Background(), Request{
		URL:    srv.URL + "/external/deliveries/",
		Header: http.Header{"Api-Key": []string{"k"}},
		Query:  url.Values{"filter_mode": []string{"active"}},
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	require.JSONEq(t, `{"success":true}`, string(resp.Body))
}

func TestClient_Do_NonSuccessStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.Client(), "")
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "5", resp.Header.Get("Retry-After"))
}

func TestClient_Do_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New(time.Second, "")
	_, err := c.Do(context.Background(), Request{URL: addr})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNetwork))
}

func TestClient_Do_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := New(50*time.Millisecond, "")
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.ErrorIs(t, err, ErrNetwork)
}

func TestClient_Do_BodyOverLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Query().Get("body")))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.Client(), "").WithMaxBodyBytes(8)

	resp, err := c.Do(context.Background(), Request{URL: srv.URL, Query: url.Values{"body": []string{"12345678"}}})
	require.NoError(t, err)
	require.Equal(t, "12345678", string(resp.Body))

	_, err = c.Do(context.Background(), Request{URL: srv.URL, Query: url.Values{"body": []string{"123456789"}}})
	require.ErrorIs(t, err, ErrBodyTooLarge)
	require.False(t, errors.Is(err, ErrNetwork))
}

func TestNewTransport_NegotiatesHTTP2(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Proto))
	}))
	srv.EnableHTTP2 = true
	srv.StartTLS()
	defer srv.Close()

	tr := newTransport()
	require.Contains(t, tr.TLSClientConfig.NextProtos, "h2")
	tr.TLSClientConfig.RootCAs = srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs

	c := NewWithHTTPClient(&http.Client{Transport: tr, Timeout: time.Second}, "")
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "HTTP/2.0", string(resp.Body))
}
