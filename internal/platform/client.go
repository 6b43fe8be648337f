// Package platform is an HTTP client for the external scanning platform:
// authentication, scan creation and status, and report generation.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "yoroprobe"
	maxErrorBody     = 4096
)

// Config holds connection settings for the platform API.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	UserAgent string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records request latency into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the platform. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       logr.Logger
	metrics   *metrics.Collector

	mu    sync.RWMutex
	token string
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("platform: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("platform: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("platform: unsupported base url scheme %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: ua,
		log:       logr.Discard(),
		token:     cfg.Token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		AccessCamel string `json:"accessToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "/auth/login", nil, body, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	token := firstNonEmpty(resp.Token, resp.AccessToken, resp.AccessCamel)
	if token == "" {
		return "", ErrNoToken
	}
	c.SetToken(token)
	return token, nil
}

// CreateScan submits a new scan.
func (c *Client) CreateScan(ctx context.Context, req schema.ScanRequest) (*schema.Scan, error) {
	if strings.TrimSpace(req.Target) == "" {
		return nil, errors.New("create scan: target is required")
	}
	var p scanPayload
	if err := c.do(ctx, http.MethodPost, "/scans", "/scans", nil, req, &p); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	scan := p.toScan()
	if scan.ID == "" {
		return nil, errors.New("create scan: response has no scan id")
	}
	return scan, nil
}

// GetScan fetches the current state of a scan.
func (c *Client) GetScan(ctx context.Context, id schema.ScanID) (*schema.Scan, error) {
	if id == "" {
		return nil, errors.New("get scan: empty scan id")
	}
	var p scanPayload
	path := "/scans/" + url.PathEscape(string(id))
	if err := c.do(ctx, http.MethodGet, path, "/scans/{id}", nil, nil, &p); err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	scan := p.toScan()
	if scan.ID == "" {
		scan.ID = id
	}
	return scan, nil
}

// GenerateReport asks the platform to build its own report for a scan.
func (c *Client) GenerateReport(ctx context.Context, req schema.ReportRequest) (*schema.ReportJob, error) {
	if req.ScanID == "" {
		return nil, errors.New("generate report: empty scan id")
	}
	if req.Format == "" {
		req.Format = "pdf"
	}
	var job schema.ReportJob
	if err := c.do(ctx, http.MethodPost, "/reports/generate", "/reports/generate", nil, req, &job); err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	if job.ScanID == "" {
		job.ScanID = req.ScanID
	}
	return &job, nil
}

// ListReports lists generated reports, filtered by scan when scanID is set.
func (c *Client) ListReports(ctx context.Context, scanID schema.ScanID) ([]schema.Report, error) {
	q := url.Values{}
	if scanID != "" {
		q.Set("scanId", string(scanID))
	}
	var list reportList
	if err := c.do(ctx, http.MethodGet, "/reports", "/reports", q, nil, &list); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path, route string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// path arrives escaped; ids may contain '/' or spaces.
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return fmt.Errorf("request path %q: %w", path, err)
	}
	u := *c.base
	u.Path = c.base.Path + unescaped
	u.RawPath = c.base.EscapedPath() + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, route, 0, time.Since(start))
		c.log.V(1).Info("request failed", "method", method, "path", path, "requestID", reqID, "err", err.Error())
		return err
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(method, route, resp.StatusCode, time.Since(start))
	c.log.V(1).Info("request", "method", method, "path", path, "status", resp.StatusCode,
		"requestID", reqID, "duration", time.Since(start).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapEnvelope(raw), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
