package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/domain"
)

const defaultMaxBodyBytes = 32 << 20

// HTTPConfig holds HTTPTransport settings.
type HTTPConfig struct {
	BaseURL             string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxBodyBytes        int64
	UserAgent           string
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	name         string
	baseURL      string
	userAgent    string
	maxBodyBytes int64
	httpClient   *http.Client
	clock        clock.Clock

	Monitor *Monitor
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(name string, cfg HTTPConfig, clk clock.Clock) *HTTPTransport {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &HTTPTransport{
		name:         name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock:   clk,
		Monitor: NewMonitor(clk),
	}
}

// Name returns the transport identifier.
func (t *HTTPTransport) Name() string {
	return t.name
}

// Send performs one HTTP exchange.
func (t *HTTPTransport) Send(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.resolve(req.Path), body)
	if err != nil {
		t.Monitor.RecordFailure()
		return nil, domain.NewFailure(domain.KindValidation, "create request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if req.ID != "" {
		httpReq.Header.Set("X-Request-ID", req.ID)
	}

	sentAt := t.clock.Now()
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		t.Monitor.RecordFailure()
		return nil, fmt.Errorf("http %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		t.Monitor.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > t.maxBodyBytes {
		t.Monitor.RecordFailure()
		f := domain.NewFailure(domain.KindValidation,
			fmt.Sprintf("response body exceeds %d bytes", t.maxBodyBytes), nil)
		f.Status = resp.StatusCode
		return nil, f
	}
	receivedAt := t.clock.Now()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		t.Monitor.RecordThrottle(resp.StatusCode, classify.ParseRetryAfter(resp.Header.Get("Retry-After"), receivedAt))
		t.Monitor.RecordFailure()
	case resp.StatusCode == http.StatusForbidden:
		t.Monitor.RecordThrottle(resp.StatusCode, 0)
		t.Monitor.RecordFailure()
	case resp.StatusCode >= 400 && t.Monitor.DetectThrottlePattern(string(data)):
		t.Monitor.RecordThrottle(http.StatusTooManyRequests, 0)
		t.Monitor.RecordFailure()
	case resp.StatusCode >= 500:
		t.Monitor.RecordFailure()
	default:
		t.Monitor.RecordSuccess(receivedAt.Sub(sentAt))
	}

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		SentAt:     sentAt,
		ReceivedAt: receivedAt,
	}, nil
}

// Stats returns monitoring statistics.
func (t *HTTPTransport) Stats() MonitorStats {
	return t.Monitor.Stats()
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || t.baseURL == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return t.baseURL + path
}
