// Package httpexec is the reference net/http-based implementation of
// executor.Executor. It is the only Executor this repository ships;
// anti-bot-bypass and raw-request replay clients are expected to live in
// their own packages behind the same interface.
package httpexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fathomsec/fathom/pkg/executor"
)

// Config controls the shared transport used by every request.
type Config struct {
	// MaxIdleConnsPerHost bounds connection reuse per target host. A web
	// path scan hammers one host with high concurrency, so this should
	// track the dispatcher's thread count.
	MaxIdleConnsPerHost int

	// MaxRedirects caps the redirect chain length before
	// ErrTooManyRedirects is returned.
	MaxRedirects int

	// InsecureSkipVerify disables TLS certificate verification, useful
	// against internal targets with self-signed certs.
	InsecureSkipVerify bool

	// MaxBodyBytes caps how much of a response body is read into memory.
	// Zero or negative falls back to DefaultConfig's 10MiB.
	MaxBodyBytes int64
}

// DefaultConfig mirrors the dispatcher's default thread count.
func DefaultConfig() Config {
	return Config{
		MaxIdleConnsPerHost: 25,
		MaxRedirects:        10,
		MaxBodyBytes:        10 << 20, // 10MiB
	}
}

// Executor is a net/http-based executor.Executor. One shared
// http.Transport is reused across every request for connection pooling;
// it is built once at construction, never per-request.
type Executor struct {
	cfg    Config
	client *http.Client

	proxyMu     sync.RWMutex
	proxyByHost map[string]*url.URL
}

// New builds an Executor. cfg zero-values fall back to DefaultConfig.
func New(cfg Config) *Executor {
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = DefaultConfig().MaxIdleConnsPerHost
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultConfig().MaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	e := &Executor{cfg: cfg, proxyByHost: make(map[string]*url.URL)}

	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
		Proxy:               e.proxyFunc,
	}

	e.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return executor.ErrTooManyRedirects
			}
			return nil
		},
	}
	return e
}

func (e *Executor) proxyFunc(req *http.Request) (*url.URL, error) {
	e.proxyMu.RLock()
	defer e.proxyMu.RUnlock()
	if u, ok := e.proxyByHost[req.URL.Host]; ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

// Execute issues one HTTP request described by spec and normalizes the
// result into an executor.ResponseSummary, or a wrapped sentinel
// TransportError on failure.
func (e *Executor) Execute(ctx context.Context, spec executor.RequestSpec) (executor.ResponseSummary, error) {
	start := time.Now()

	reqCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(reqCtx, method, spec.URL, body)
	if err != nil {
		return executor.ResponseSummary{}, &executor.TransportError{Op: "build", URL: spec.URL, Err: err}
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	client := e.client
	if !spec.FollowRedirects {
		// Copy the client so CheckRedirect is only overridden for this call.
		shallow := *e.client
		shallow.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &shallow
	}
	if spec.ProxyURL != "" {
		if err := e.setProxyForHost(req.URL.Host, spec.ProxyURL); err != nil {
			return executor.ResponseSummary{}, &executor.TransportError{Op: "proxy", URL: spec.URL, Err: err}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return executor.ResponseSummary{}, classifyError(spec.URL, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, e.cfg.MaxBodyBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return executor.ResponseSummary{}, &executor.TransportError{Op: "read", URL: spec.URL, Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var chain []string
	if resp.Request != nil && resp.Request.Response != nil {
		for r := resp.Request.Response; r != nil; r = r.Request.Response {
			chain = append([]string{r.Request.URL.String()}, chain...)
		}
	}

	finalURL := spec.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return executor.ResponseSummary{
		Status:        resp.StatusCode,
		Body:          data,
		BodySize:      len(data),
		Headers:       headers,
		FinalURL:      finalURL,
		RedirectChain: chain,
		ElapsedMS:     time.Since(start).Milliseconds(),
	}, nil
}

func (e *Executor) setProxyForHost(host, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	e.proxyMu.Lock()
	e.proxyByHost[host] = u
	e.proxyMu.Unlock()
	return nil
}

// Close releases idle connections held by the shared transport.
func (e *Executor) Close() error {
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func classifyError(u string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrTimeout}
	}
	if errors.Is(err, executor.ErrTooManyRedirects) {
		return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrTooManyRedirects}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrDNSFailure}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrConnectionReset}
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrTLSError}
	}
	if urlErr, ok := err.(*url.Error); ok {
		if errors.Is(urlErr.Err, executor.ErrTooManyRedirects) {
			return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrTooManyRedirects}
		}
	}

	return &executor.TransportError{Op: "execute", URL: u, Err: executor.ErrConnectionReset}
}

var _ executor.Executor = (*Executor)(nil)
