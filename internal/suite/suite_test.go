package suite

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/notify"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/platform"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/poller"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/report"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/sandbox"
)

const smokeYAML = `
name: smoke
scans:
  - name: wordpress
    target: https://shop.example
    type: wordpress
    expect:
      min_findings: 4
      max_severity: high
    report:
      formats: [text, html, pdf]
      platform: true
      format: html
  - name: broken
    target: https://fail.example
    type: ssl
    expect:
      outcome: failed
  - name: clean
    target: https://clean.example
    type: whois
    expect:
      max_findings: 0
`

func TestParse(t *testing.T) {
	s, err := Parse(strings.NewReader(smokeYAML))
	require.NoError(t, err)
	assert.Equal(t, "smoke", s.Name)
	assert.True(t, s.LoginEnabled())
	require.Len(t, s.Scans, 3)
	assert.Equal(t, poller.Completed, s.Scans[0].ExpectedOutcome())
	assert.Equal(t, poller.Failed, s.Scans[1].ExpectedOutcome())
	assert.Equal(t, 0, *s.Scans[2].Expect.MaxFindings)
	assert.Equal(t, []string{"text", "html", "pdf"}, s.Scans[0].Report.Formats)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown field": "name: x\nscans:\n  - target: a\n    tagret: b\n",
		"no scans":      "name: x\n",
		"no target":     "scans:\n  - name: a\n",
		"bad outcome":   "scans:\n  - target: a\n    expect: {outcome: maybe}\n",
		"bad severity":  "scans:\n  - target: a\n    expect: {max_severity: urgent}\n",
		"min over max":  "scans:\n  - target: a\n    expect: {min_findings: 3, max_findings: 1}\n",
		"bad format":    "scans:\n  - target: a\n    report: {formats: [docx]}\n",
		"empty":         "",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_DefaultsName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scans:\n  - target: https://a.example\n"), 0644))
	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", s.Name)
}

type recordingNotifier struct{ payloads []notify.Payload }

func (n *recordingNotifier) Send(_ context.Context, p notify.Payload) error {
	n.payloads = append(n.payloads, p)
	return nil
}

func newRunner(t *testing.T, cfg sandbox.Config, opts ...Option) *Runner {
	t.Helper()
	srv := httptest.NewServer(sandbox.New(cfg).Handler())
	t.Cleanup(srv.Close)

	client, err := platform.New(platform.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	opts = append([]Option{WithCredentials(cfg.Email, cfg.Password), WithLogger(testr.New(t))}, opts...)
	return NewRunner(client, poller.Config{Interval: time.Millisecond, MaxAttempts: 10}, opts...)
}

func TestRun_AllPass(t *testing.T) {
	s, err := Parse(strings.NewReader(smokeYAML))
	require.NoError(t, err)

	outDir := t.TempDir()
	var out bytes.Buffer
	m := metrics.New()
	n := &recordingNotifier{}
	r := newRunner(t, sandbox.DefaultConfig(),
		WithOutput(&out), WithMetrics(m), WithNotifier(n), WithReports(outDir, report.RenderOptions{}))

	sum, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	for _, c := range sum.Checks {
		assert.True(t, c.Passed, "%s: %s", c.Name, c.Detail)
	}
	assert.True(t, sum.OK())

	var names []string
	for _, c := range sum.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"login",
		"create wordpress", "poll wordpress", "findings wordpress", "report wordpress", "platform report wordpress",
		"create broken", "poll broken",
		"create clean", "poll clean", "findings clean",
	}, names)
	assert.Equal(t, 11, sum.Passed)

	assert.Contains(t, out.String(), "login")
	assert.Contains(t, out.String(), "11 passed")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `yoroprobe_checks_total{result="pass"} 11`)

	require.Len(t, n.payloads, 1)
	assert.Equal(t, notify.EventSuiteFinished, n.payloads[0].EventType)
	assert.Equal(t, "passed", n.payloads[0].Outcome)
	assert.Len(t, n.payloads[0].Checks, 11)

	matches, err := filepath.Glob(filepath.Join(outDir, "*", "report.pdf"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRun_SameTargetCasesKeepSeparateResults(t *testing.T) {
	s := Suite{
		Name: "one shop",
		Scans: []ScanCase{
			{Name: "cms", Target: "https://shop.example", Type: "wordpress", Report: ReportSpec{Formats: []string{"text"}}},
			{Name: "tls", Target: "https://shop.example", Type: "ssl", Report: ReportSpec{Formats: []string{"text"}}},
		},
	}
	outDir := t.TempDir()
	r := newRunner(t, sandbox.DefaultConfig(), WithReports(outDir, report.RenderOptions{}))
	pinned := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return pinned }

	sum, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, sum.OK())

	dirs, err := filepath.Glob(filepath.Join(outDir, "*", "results.json"))
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	var types []string
	for _, p := range dirs {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		switch {
		case strings.Contains(string(b), `"type": "wordpress"`):
			types = append(types, "wordpress")
		case strings.Contains(string(b), `"type": "ssl"`):
			types = append(types, "ssl")
		}
		assert.FileExists(t, filepath.Join(filepath.Dir(p), "report.txt"))
	}
	assert.ElementsMatch(t, []string{"wordpress", "ssl"}, types)
}

func TestRun_FailuresDoNotStopOtherCases(t *testing.T) {
	s := Suite{
		Name: "mixed",
		Scans: []ScanCase{
			{Name: "wants-complete", Target: "https://fail.example", Type: "ssl"},
			{Name: "too-severe", Target: "https://shop.example", Type: "wordpress", Expect: Expect{MaxSeverity: "medium"}},
			{Name: "ok", Target: "https://ok.example", Type: "whois"},
		},
	}
	n := &recordingNotifier{}
	sum, err := newRunner(t, sandbox.DefaultConfig(), WithNotifier(n)).Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, sum.OK())
	assert.Equal(t, 2, sum.Failed)
	failed := map[string]string{}
	for _, c := range sum.Checks {
		if !c.Passed {
			failed[c.Name] = c.Detail
		}
	}
	assert.Contains(t, failed["poll wants-complete"], "expected completed")
	assert.Contains(t, failed["findings too-severe"], "above medium")
	assert.Equal(t, "failed", n.payloads[0].Outcome)
}

func TestRun_BadLogin(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	s := Suite{Name: "auth", Scans: []ScanCase{{Target: "https://a.example"}}}

	sum, err := newRunner(t, cfg, WithCredentials(cfg.Email, "wrong")).Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, sum.Checks, 2)
	assert.Equal(t, "login", sum.Checks[0].Name)
	assert.False(t, sum.Checks[0].Passed)
	assert.Equal(t, "create https://a.example", sum.Checks[1].Name)
	assert.Contains(t, sum.Checks[1].Detail, "status 401")
}

func TestRun_ExpectedTimeout(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.Progression = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 99}
	s := Suite{Name: "slow", Scans: []ScanCase{{Target: "https://slow.example", Expect: Expect{Outcome: "timed_out"}}}}

	sum, err := newRunner(t, cfg).Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, sum.OK())
	assert.Equal(t, "timed_out after 10 attempts", sum.Checks[2].Detail)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := Suite{Name: "x", Login: new(bool), Scans: []ScanCase{{Target: "https://a.example"}}}
	sum, err := newRunner(t, sandbox.DefaultConfig()).Run(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sum.Checks)
}

func TestCheckFindings(t *testing.T) {
	two := 2
	_, err := checkFindings(Expect{MinFindings: &two}, nil)
	assert.ErrorContains(t, err, "at least 2")
	detail, err := checkFindings(Expect{MaxFindings: &two}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0 findings", detail)
}
