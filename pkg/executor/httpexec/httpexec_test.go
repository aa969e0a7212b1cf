package httpexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomsec/fathom/pkg/executor"
)

func TestExecuteReturnsNormalizedResponseSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	e := New(DefaultConfig())
	defer e.Close()

	resp, err := e.Execute(context.Background(), executor.RequestSpec{URL: srv.URL, Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, 5, resp.BodySize)
	assert.Equal(t, "yes", resp.Headers["X-Test"])
}

func TestExecuteTimeoutReturnsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	e := New(DefaultConfig())
	defer e.Close()

	_, err := e.Execute(context.Background(), executor.RequestSpec{
		URL:     srv.URL,
		Timeout: 10 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, executor.IsTimeout(err) || executor.IsRetryable(err))
}

func TestExecuteNoFollowRedirectsReturnsRedirectStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	e := New(DefaultConfig())
	defer e.Close()

	resp, err := e.Execute(context.Background(), executor.RequestSpec{URL: srv.URL, FollowRedirects: false})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
}
