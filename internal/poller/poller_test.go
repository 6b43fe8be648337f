package poller

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/platform"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/sandbox"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// fakeSleeper records delays without sleeping.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.delays = append(f.delays, d)
	return nil
}

// step is one scripted response of the fake platform.
type step struct {
	scan *schema.Scan
	err  error
}

type scriptedFetcher struct {
	steps []step
	calls atomic.Int32
}

func (f *scriptedFetcher) GetScan(_ context.Context, id schema.ScanID) (*schema.Scan, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.steps) {
		n = len(f.steps) - 1
	}
	s := f.steps[n]
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.scan
	cp.ID = id
	return &cp, nil
}

func running(p int) step {
	return step{scan: &schema.Scan{Status: schema.StatusRunning, Progress: p}}
}

func newTestPoller(t *testing.T, f Fetcher, cfg Config, opts ...Option) (*Poller, *fakeSleeper) {
	t.Helper()
	s := &fakeSleeper{}
	opts = append([]Option{WithLogger(testr.New(t))}, opts...)
	p := New(f, cfg, opts...)
	p.sleeper = s
	return p, s
}

func quickConfig(attempts int) Config {
	return Config{Interval: 2 * time.Second, MaxAttempts: attempts}
}

func TestPoll_PendingRunningCompleted(t *testing.T) {
	findings := []schema.Finding{{Title: "XSS", Severity: schema.SeverityHigh}}
	f := &scriptedFetcher{steps: []step{
		{scan: &schema.Scan{Status: schema.StatusPending}},
		running(40),
		running(80),
		{scan: &schema.Scan{Status: schema.StatusCompleted, Progress: 100, Results: findings}},
		{scan: &schema.Scan{Status: schema.StatusFailed}},
	}}

	var updates []Update
	p, s := newTestPoller(t, f, quickConfig(10), WithObserver(func(u Update) { updates = append(updates, u) }))

	res, err := p.Poll(context.Background(), "scan-1")
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, int32(4), f.calls.Load(), "polling stops at the first completed observation")
	assert.Len(t, s.delays, 3)
	assert.Equal(t, []int{0, 40, 80, 100}, res.Progress)
	require.NotNil(t, res.Scan)
	assert.Equal(t, findings, res.Scan.Results)
	assert.Equal(t, schema.ScanID("scan-1"), res.Scan.ID)

	require.Len(t, updates, 4)
	assert.Equal(t, schema.StatusPending, updates[0].Status)
	assert.Equal(t, 1, updates[3].ResultCount)
}

func TestPoll_Failed(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		running(10),
		{scan: &schema.Scan{Status: schema.StatusFailed, Progress: 10, ErrorMessage: "boom"}},
	}}
	p, _ := newTestPoller(t, f, quickConfig(5))

	res, err := p.Poll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, "boom", res.Scan.ErrorMessage)
	assert.Equal(t, 2, res.Attempts)
}

func TestPoll_TimesOut(t *testing.T) {
	f := &scriptedFetcher{steps: []step{running(5)}}
	p, s := newTestPoller(t, f, quickConfig(4))

	res, err := p.Poll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, int32(4), f.calls.Load())
	assert.Len(t, s.delays, 3, "no sleep after the final attempt")
	require.NotNil(t, res.Scan)
	assert.Equal(t, schema.StatusRunning, res.Scan.Status, "last observed state is returned")
}

func TestPoll_PendingNeverTerminal(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{scan: &schema.Scan{Status: schema.StatusPending}}}}
	p, _ := newTestPoller(t, f, quickConfig(3))

	res, err := p.Poll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
}

func TestPoll_SwallowsTransientErrors(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errors.New("connection reset by peer")},
		{err: &platform.APIError{StatusCode: 503}},
		running(50),
		{scan: &schema.Scan{Status: schema.StatusCompleted, Progress: 100}},
	}}
	m := metrics.New()
	p, _ := newTestPoller(t, f, quickConfig(10), WithMetrics(m))

	res, err := p.Poll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 4, res.Attempts)

	n, err := testutil.GatherAndCount(m.Registry(), "yoroprobe_poll_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPoll_AllAttemptsFail(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{err: errors.New("dial tcp: refused")}}}
	p, _ := newTestPoller(t, f, quickConfig(3))

	res, err := p.Poll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.Outcome)
	assert.Nil(t, res.Scan)
	assert.Equal(t, 3, res.Errors)
}

func TestPoll_PermanentErrorStops(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		running(10),
		{err: &platform.APIError{Method: "GET", Path: "/scans/s", StatusCode: 404}},
	}}
	p, _ := newTestPoller(t, f, quickConfig(10))

	res, err := p.Poll(context.Background(), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrNotFound)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestPoll_ProgressNeverDecreases(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		running(30),
		running(60),
		running(45),
		running(200),
		{scan: &schema.Scan{Status: schema.StatusCompleted, Progress: 90}},
	}}
	p, _ := newTestPoller(t, f, quickConfig(10))

	res, err := p.Poll(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60, 60, 100, 100}, res.Progress)
	for i := 1; i < len(res.Progress); i++ {
		assert.GreaterOrEqual(t, res.Progress[i], res.Progress[i-1])
	}
}

func TestPoll_Validation(t *testing.T) {
	p, _ := newTestPoller(t, &scriptedFetcher{}, quickConfig(3))
	_, err := p.Poll(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyScanID)

	p, _ = newTestPoller(t, &scriptedFetcher{}, Config{})
	_, err = p.Poll(context.Background(), "s")
	assert.ErrorContains(t, err, "interval must be positive")
	assert.ErrorContains(t, err, "max attempts must be positive")
}

func TestPoll_ContextCancelled(t *testing.T) {
	f := &scriptedFetcher{steps: []step{running(10)}}
	p, _ := newTestPoller(t, f, quickConfig(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Poll(ctx, "s")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestPoll_RealSleeperHonoursDeadline(t *testing.T) {
	f := &scriptedFetcher{steps: []step{running(10)}}
	p := New(f, Config{Interval: time.Hour, MaxAttempts: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := p.Poll(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoll_AgainstSandbox(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.Progression = []int{40, 80}
	srv := httptest.NewServer(sandbox.New(cfg).Handler())
	defer srv.Close()

	client, err := platform.New(platform.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = client.Login(ctx, cfg.Email, cfg.Password)
	require.NoError(t, err)
	scan, err := client.CreateScan(ctx, schema.ScanRequest{Target: "example.com", Type: "ssl"})
	require.NoError(t, err)

	p := New(client, Config{Interval: time.Millisecond, MaxAttempts: 10}, WithLogger(testr.New(t)))
	res, err := p.Poll(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)
	assert.Equal(t, []int{0, 40, 80, 100}, res.Progress)
	assert.Len(t, res.Scan.Results, 3)
}
