package suite

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/notify"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/poller"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/report"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/ui"
	"github.com/yorozuya-cybersecurity/yorosec-probe/pkg/utils"
)

// Platform is the part of the platform API a suite drives.
// *platform.Client implements it.
type Platform interface {
	poller.Fetcher
	Login(ctx context.Context, email, password string) (string, error)
	CreateScan(ctx context.Context, req schema.ScanRequest) (*schema.Scan, error)
	GenerateReport(ctx context.Context, req schema.ReportRequest) (*schema.ReportJob, error)
	ListReports(ctx context.Context, scanID schema.ScanID) ([]schema.Report, error)
}

// Notifier receives the suite summary.
type Notifier interface {
	Send(ctx context.Context, p notify.Payload) error
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string
	Passed   bool
	Detail   string
	Duration time.Duration
}

// Summary is the outcome of a suite run.
type Summary struct {
	Suite    string
	Checks   []CheckResult
	Passed   int
	Failed   int
	Duration time.Duration
}

// OK reports whether every check passed.
func (s Summary) OK() bool { return s.Failed == 0 && len(s.Checks) > 0 }

// Option customizes a Runner.
type Option func(*Runner)

func WithLogger(log logr.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMetrics counts check results and poll attempts.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithNotifier sends the summary when the run ends.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithOutput prints one line per check to w.
func WithOutput(w io.Writer) Option { return func(r *Runner) { r.out = w } }

// WithCredentials sets the login used by the login check.
func WithCredentials(email, password string) Option {
	return func(r *Runner) { r.email, r.password = email, password }
}

// WithReports saves results and renders reports below dir.
func WithReports(dir string, opts report.RenderOptions) Option {
	return func(r *Runner) { r.outDir, r.render = dir, opts }
}

// Runner executes suites one check at a time.
type Runner struct {
	client   Platform
	poll     poller.Config
	log      logr.Logger
	metrics  *metrics.Collector
	notifier Notifier
	out      io.Writer
	email    string
	password string
	outDir   string
	render   report.RenderOptions
	now      func() time.Time
}

// NewRunner returns a Runner polling with pollCfg.
func NewRunner(client Platform, pollCfg poller.Config, opts ...Option) *Runner {
	r := &Runner{
		client: client,
		poll:   pollCfg,
		log:    logr.Discard(),
		out:    io.Discard,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type run struct {
	*Runner
	summary Summary
}

// Run executes s. A failed check does not stop the checks of other scan
// cases; only context cancellation ends the run early.
func (r *Runner) Run(ctx context.Context, s Suite) (Summary, error) {
	start := r.now()
	rn := &run{Runner: r, summary: Summary{Suite: s.Name}}
	fmt.Fprintln(r.out, ui.Title("suite "+s.Name))

	if s.LoginEnabled() {
		rn.check("login", func() (string, error) {
			tok, err := r.client.Login(ctx, r.email, r.password)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("token %d chars", len(tok)), nil
		})
	}

	for _, c := range s.Scans {
		if err := ctx.Err(); err != nil {
			rn.summary.Duration = r.now().Sub(start)
			return rn.summary, err
		}
		rn.runCase(ctx, c)
	}

	rn.summary.Duration = r.now().Sub(start)
	fmt.Fprintln(r.out, ui.SummaryLine(rn.summary.Passed, rn.summary.Failed, rn.summary.Duration))
	r.log.Info("suite finished", "suite", s.Name, "passed", rn.summary.Passed, "failed", rn.summary.Failed)

	if r.notifier != nil {
		if err := r.notifier.Send(ctx, suitePayload(rn.summary, r.now())); err != nil {
			r.log.Error(err, "suite notification failed", "suite", s.Name)
		}
	}
	return rn.summary, ctx.Err()
}

func (rn *run) runCase(ctx context.Context, c ScanCase) {
	name := c.DisplayName()

	var scan *schema.Scan
	ok := rn.check("create "+name, func() (string, error) {
		var err error
		scan, err = rn.client.CreateScan(ctx, schema.ScanRequest{Target: c.Target, Type: c.Type, Parameters: c.Parameters})
		if err != nil {
			return "", err
		}
		return "id " + string(scan.ID), nil
	})
	if !ok {
		return
	}

	var res poller.Result
	want := c.ExpectedOutcome()
	ok = rn.check("poll "+name, func() (string, error) {
		var err error
		p := poller.New(rn.client, rn.poll, poller.WithLogger(rn.log), poller.WithMetrics(rn.metrics))
		res, err = p.Poll(ctx, scan.ID)
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("%s after %d attempts", res.Outcome, res.Attempts)
		if res.Outcome != want {
			return "", fmt.Errorf("expected %s, got %s", want, detail)
		}
		return detail, nil
	})
	if !ok || res.Outcome != poller.Completed || res.Scan == nil {
		return
	}

	if hasFindingExpectations(c.Expect) {
		rn.check("findings "+name, func() (string, error) {
			return checkFindings(c.Expect, res.Scan.Results)
		})
	}

	if len(c.Report.Formats) > 0 && rn.outDir != "" {
		rn.check("report "+name, func() (string, error) {
			return rn.renderLocal(ctx, c, res)
		})
	}

	if c.Report.Platform {
		rn.check("platform report "+name, func() (string, error) {
			return rn.platformReport(ctx, c, scan.ID)
		})
	}
}

// check runs fn as a named check and records the result.
func (rn *run) check(name string, fn func() (string, error)) bool {
	start := rn.now()
	detail, err := fn()
	cr := CheckResult{Name: name, Passed: err == nil, Detail: detail, Duration: rn.now().Sub(start)}
	if err != nil {
		cr.Detail = err.Error()
		rn.log.V(1).Info("check failed", "check", name, "error", err.Error())
	}

	rn.summary.Checks = append(rn.summary.Checks, cr)
	if cr.Passed {
		rn.summary.Passed++
	} else {
		rn.summary.Failed++
	}
	rn.metrics.Check(cr.Passed)
	fmt.Fprintln(rn.out, ui.CheckLine(name, cr.Passed, cr.Detail))
	return cr.Passed
}

func hasFindingExpectations(e Expect) bool {
	return e.MinFindings != nil || e.MaxFindings != nil || e.MaxSeverity != ""
}

func checkFindings(e Expect, findings []schema.Finding) (string, error) {
	n := len(findings)
	if e.MinFindings != nil && n < *e.MinFindings {
		return "", fmt.Errorf("got %d findings, want at least %d", n, *e.MinFindings)
	}
	if e.MaxFindings != nil && n > *e.MaxFindings {
		return "", fmt.Errorf("got %d findings, want at most %d", n, *e.MaxFindings)
	}
	if e.MaxSeverity != "" {
		limit := schema.ParseSeverity(e.MaxSeverity)
		for _, f := range findings {
			sev := schema.ParseSeverity(string(f.Severity))
			if sev.Rank() > limit.Rank() {
				return "", fmt.Errorf("finding %q is %s, above %s", f.Title, sev, limit)
			}
		}
	}
	return fmt.Sprintf("%d findings", n), nil
}

func (rn *run) renderLocal(ctx context.Context, c ScanCase, res poller.Result) (string, error) {
	formats, err := report.ParseFormats(strings.Join(c.Report.Formats, ","))
	if err != nil {
		return "", err
	}
	saved := schema.ScanResult{
		Target:    c.Target,
		Timestamp: rn.now().UTC(),
		Outcome:   string(res.Outcome),
		Attempts:  res.Attempts,
		Scan:      *res.Scan,
	}
	dir, err := utils.SaveResult(saved, rn.outDir)
	if err != nil {
		return "", err
	}
	doc, err := report.Build(*res.Scan, report.Options{IncludeDetails: true, Now: rn.now})
	if err != nil {
		return "", err
	}
	paths, err := report.Render(ctx, doc, dir, formats, rn.render)
	if err != nil {
		return "", err
	}
	for _, f := range formats {
		if paths[f] == "" {
			return "", fmt.Errorf("%s report not written", f)
		}
	}
	return fmt.Sprintf("%d files in %s", len(paths), dir), nil
}

func (rn *run) platformReport(ctx context.Context, c ScanCase, id schema.ScanID) (string, error) {
	job, err := rn.client.GenerateReport(ctx, schema.ReportRequest{ScanID: id, Format: c.Report.Format, IncludeDetails: true})
	if err != nil {
		return "", err
	}
	reports, err := rn.client.ListReports(ctx, id)
	if err != nil {
		return "", err
	}
	for _, rep := range reports {
		if rep.ID == job.ID {
			return fmt.Sprintf("%s report %s", rep.Format, rep.ID), nil
		}
	}
	return "", fmt.Errorf("report %s not listed for scan %s", job.ID, id)
}

func suitePayload(s Summary, now time.Time) notify.Payload {
	outcome := "passed"
	if !s.OK() {
		outcome = "failed"
	}
	p := notify.Payload{
		EventType: notify.EventSuiteFinished,
		Timestamp: now.UTC().Format(time.RFC3339),
		Target:    s.Suite,
		Outcome:   outcome,
		Summary:   map[string]int{"passed": s.Passed, "failed": s.Failed},
	}
	for _, c := range s.Checks {
		p.Checks = append(p.Checks, notify.Check{Name: c.Name, Passed: c.Passed, Detail: c.Detail})
	}
	return p
}
