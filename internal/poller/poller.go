// Package poller watches a scan until the platform reports a terminal
// status or the attempt budget runs out.
//
// Usage:
//
//	p := poller.New(client, poller.DefaultConfig(), poller.WithLogger(log))
//	res, err := p.Poll(ctx, scan.ID)
//	if err != nil {
//	    return err
//	}
//	switch res.Outcome {
//	case poller.Completed: ...
//	}
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/metrics"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/platform"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// ErrEmptyScanID is returned by Poll when no scan id is given.
var ErrEmptyScanID = errors.New("poller: empty scan id")

// Outcome is how a poll run ended.
type Outcome string

const (
	Completed Outcome = "completed"
	Failed    Outcome = "failed"
	TimedOut  Outcome = "timed_out"
)

// Fetcher reads the current state of a scan. *platform.Client implements it.
type Fetcher interface {
	GetScan(ctx context.Context, id schema.ScanID) (*schema.Scan, error)
}

// Update is passed to the observer whenever status, progress or the
// result count change.
type Update struct {
	Attempt     int
	Status      schema.Status
	Progress    int
	ResultCount int
}

// Result is the last observed scan state plus how polling ended.
type Result struct {
	Outcome  Outcome
	Scan     *schema.Scan // nil only if every attempt failed
	Attempts int
	Errors   int
	Progress []int // reported progress per successful attempt, non-decreasing
	Elapsed  time.Duration
}

type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option customizes a Poller.
type Option func(*Poller)

// WithLogger sets the logger for swallowed errors and state changes.
func WithLogger(log logr.Logger) Option {
	return func(p *Poller) { p.log = log }
}

// WithMetrics counts attempts, errors and outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithObserver registers a callback for progress updates.
func WithObserver(fn func(Update)) Option {
	return func(p *Poller) { p.observe = fn }
}

// Poller polls one scan at a time. It holds no per-run state, so a single
// Poller may be shared.
type Poller struct {
	fetch   Fetcher
	cfg     Config
	log     logr.Logger
	metrics *metrics.Collector
	observe func(Update)
	sleeper sleeper
	rnd     func(n int64) int64
	now     func() time.Time
}

// New returns a Poller. cfg is checked on each Poll call.
func New(f Fetcher, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		fetch:   f,
		cfg:     cfg,
		log:     logr.Discard(),
		sleeper: realSleeper{},
		rnd:     defaultRand,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll requests the scan up to MaxAttempts times. It returns as soon as a
// terminal status is observed. Transient request errors are logged and
// the next attempt proceeds; permanent ones (unknown scan, rejected
// credentials, other 4xx) end polling with an error.
func (p *Poller) Poll(ctx context.Context, id schema.ScanID) (Result, error) {
	if id == "" {
		return Result{}, ErrEmptyScanID
	}
	if err := p.cfg.Validate(); err != nil {
		return Result{}, err
	}

	start := p.now()
	res := Result{}
	log := p.log.WithValues("scanID", string(id))
	best := -1
	var last Update

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = p.now().Sub(start)
			return res, err
		}

		res.Attempts = attempt
		p.metrics.PollAttempt()
		scan, err := p.fetch.GetScan(ctx, id)
		switch {
		case err != nil && ctx.Err() != nil:
			res.Elapsed = p.now().Sub(start)
			return res, ctx.Err()
		case err != nil && !platform.IsTransient(err):
			res.Elapsed = p.now().Sub(start)
			return res, fmt.Errorf("poll scan %s: %w", id, err)
		case err != nil:
			res.Errors++
			p.metrics.PollError()
			log.Info("poll attempt failed, will retry", "attempt", attempt, "err", err.Error())
		default:
			progress := schema.ClampProgress(scan.Progress)
			if progress < best {
				log.Info("progress went backwards, keeping previous value",
					"attempt", attempt, "reported", progress, "kept", best)
				progress = best
			}
			best = progress
			scan.Progress = progress
			res.Scan = scan
			res.Progress = append(res.Progress, progress)

			u := Update{Attempt: attempt, Status: scan.Status, Progress: progress, ResultCount: len(scan.Results)}
			if u.Status != last.Status || u.Progress != last.Progress || u.ResultCount != last.ResultCount {
				log.V(1).Info("scan state", "attempt", attempt, "status", scan.Status,
					"progress", progress, "results", len(scan.Results))
				if p.observe != nil {
					p.observe(u)
				}
			}
			last = u

			if scan.Status.Terminal() {
				res.Outcome = outcomeFor(scan.Status)
				res.Elapsed = p.now().Sub(start)
				p.metrics.PollOutcome(string(res.Outcome))
				return res, nil
			}
		}

		if attempt < p.cfg.MaxAttempts {
			if err := p.sleeper.sleep(ctx, p.cfg.delay(attempt, p.rnd)); err != nil {
				res.Elapsed = p.now().Sub(start)
				return res, err
			}
		}
	}

	res.Outcome = TimedOut
	res.Elapsed = p.now().Sub(start)
	p.metrics.PollOutcome(string(TimedOut))
	log.Info("attempt budget exhausted", "attempts", res.Attempts, "errors", res.Errors)
	return res, nil
}

func outcomeFor(s schema.Status) Outcome {
	if s == schema.StatusCompleted {
		return Completed
	}
	return Failed
}
