package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/sandbox"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

func newSandboxClient(t *testing.T, cfg sandbox.Config, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(sandbox.New(cfg).Handler())
	t.Cleanup(srv.Close)

	opts = append([]Option{WithLogger(testr.New(t))}, opts...)
	c, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"})
	assert.ErrorContains(t, err, "unsupported")

	c, err := New(Config{BaseURL: "https://api.example.com/v1/", Token: "t0"})
	require.NoError(t, err)
	assert.Equal(t, "/v1", c.base.Path)
	assert.Equal(t, "t0", c.Token())
}

func TestClient_EndToEnd(t *testing.T) {
	for _, envelope := range []bool{false, true} {
		t.Run(map[bool]string{false: "bare", true: "envelope"}[envelope], func(t *testing.T) {
			cfg := sandbox.DefaultConfig()
			cfg.Envelope = envelope
			cfg.PendingPolls = 0
			cfg.Progression = []int{50}
			c := newSandboxClient(t, cfg)
			ctx := context.Background()

			token, err := c.Login(ctx, cfg.Email, cfg.Password)
			require.NoError(t, err)
			assert.Equal(t, token, c.Token())

			scan, err := c.CreateScan(ctx, schema.ScanRequest{Target: "https://shop.example", Type: "wordpress"})
			require.NoError(t, err)
			assert.NotEmpty(t, scan.ID)
			assert.Equal(t, schema.StatusPending, scan.Status)
			require.NotNil(t, scan.CreatedAt)

			scan, err = c.GetScan(ctx, scan.ID)
			require.NoError(t, err)
			assert.Equal(t, schema.StatusRunning, scan.Status)
			assert.Equal(t, 50, scan.Progress)
			assert.Empty(t, scan.Results)

			scan, err = c.GetScan(ctx, scan.ID)
			require.NoError(t, err)
			assert.Equal(t, schema.StatusCompleted, scan.Status)
			require.Len(t, scan.Results, 4)
			assert.Equal(t, "Outdated WordPress core", scan.Results[0].Title)
			assert.Equal(t, schema.SeverityHigh, scan.Results[0].Severity)
			require.NotNil(t, scan.CompletedAt)

			job, err := c.GenerateReport(ctx, schema.ReportRequest{ScanID: scan.ID, IncludeDetails: true})
			require.NoError(t, err)
			assert.Equal(t, "pdf", job.Format)
			assert.Equal(t, scan.ID, job.ScanID)

			reports, err := c.ListReports(ctx, scan.ID)
			require.NoError(t, err)
			require.Len(t, reports, 1)
			assert.Equal(t, job.ID, reports[0].ID)
		})
	}
}

func TestClient_Errors(t *testing.T) {
	c := newSandboxClient(t, sandbox.DefaultConfig())
	ctx := context.Background()

	_, err := c.Login(ctx, "admin@example.com", "wrong")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, IsTransient(err))

	_, err = c.CreateScan(ctx, schema.ScanRequest{Target: "example.com"})
	assert.True(t, errors.Is(err, ErrUnauthorized), "no token yet")

	_, err = c.Login(ctx, "admin@example.com", "changeme")
	require.NoError(t, err)

	_, err = c.GetScan(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "scan not found")

	_, err = c.CreateScan(ctx, schema.ScanRequest{})
	assert.ErrorContains(t, err, "target is required")

	_, err = c.GetScan(ctx, "")
	assert.Error(t, err)
}

func TestClient_NoTokenInLoginResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"user":"x"}}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Login(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestClient_EscapesScanIDs(t *testing.T) {
	type seen struct{ path, escaped string }
	var got []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, seen{r.URL.Path, r.URL.EscapedPath()})
		_, _ = w.Write([]byte(`{"status":"running"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/v1", Token: "tok"})
	require.NoError(t, err)
	for _, id := range []schema.ScanID{"ab/cd==", "scan 42", "plain"} {
		scan, err := c.GetScan(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, scan.ID)
	}

	assert.Equal(t, []seen{
		{"/v1/scans/ab/cd==", "/v1/scans/ab%2Fcd=="},
		{"/v1/scans/scan 42", "/v1/scans/scan%2042"},
		{"/v1/scans/plain", "/v1/scans/plain"},
	}, got)
}

func TestClient_AlternateShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/scans/7":
			_, _ = w.Write([]byte(`{"data":{"_id":7,"url":"example.com","scanType":"ssl","status":"COMPLETED",
				"progress":"100","findings":[{"name":"Weak cipher","risk":"Medium"}],"errorMessage":""}}`))
		case "/reports":
			_, _ = w.Write([]byte(`[{"id":"r1","scanId":"7","format":"pdf","status":"completed"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)

	scan, err := c.GetScan(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, schema.ScanID("7"), scan.ID)
	assert.Equal(t, "example.com", scan.Target)
	assert.Equal(t, "ssl", scan.Type)
	assert.Equal(t, schema.StatusCompleted, scan.Status)
	assert.Equal(t, 100, scan.Progress)
	require.Len(t, scan.Results, 1)
	assert.Equal(t, schema.SeverityMedium, scan.Results[0].Severity)

	reports, err := c.ListReports(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "r1", reports[0].ID)
}

func TestClient_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	c := newSandboxClient(t, sandbox.DefaultConfig(), WithMetrics(m))
	_, _ = c.Login(context.Background(), "admin@example.com", "changeme")

	n, err := testutil.GatherAndCount(m.Registry(), "yoroprobe_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","status":"running"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, RateLimit: 0.5})
	require.NoError(t, err)

	_, err = c.GetScan(context.Background(), "1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GetScan(ctx, "1")
	assert.Error(t, err, "second request must wait ~2s for a token and hit the deadline")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(errors.New("connection refused")))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(&APIError{StatusCode: 503}))
	assert.True(t, IsTransient(&APIError{StatusCode: 429}))
	assert.True(t, IsTransient(&APIError{StatusCode: 408}))
	assert.False(t, IsTransient(&APIError{StatusCode: 404}))
	assert.False(t, IsTransient(&APIError{StatusCode: 400}))
}

func TestAPIError_TruncatesOnRuneBoundary(t *testing.T) {
	err := &APIError{Method: "GET", Path: "/scans/1", StatusCode: 500, Body: strings.Repeat("é", 300)}
	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, strings.Repeat("é", 256)+"...")
	assert.NotContains(t, msg, strings.Repeat("é", 257))

	short := &APIError{Method: "GET", Path: "/x", StatusCode: 502, Body: "bad gateway"}
	assert.Equal(t, "GET /x: status 502: bad gateway", short.Error())
}

func TestUnwrapEnvelope(t *testing.T) {
	assert.Equal(t, `{"id":"1"}`, string(unwrapEnvelope([]byte(`{"data":{"id":"1"}}`))))
	assert.Equal(t, `[1]`, string(unwrapEnvelope([]byte(`{"data":[1]}`))))
	assert.Equal(t, `{"data":"x"}`, string(unwrapEnvelope([]byte(`{"data":"x"}`))))
	assert.Equal(t, `{"id":"1"}`, string(unwrapEnvelope([]byte(`{"id":"1"}`))))
	assert.Equal(t, `[]`, string(unwrapEnvelope([]byte(`[]`))))
}
