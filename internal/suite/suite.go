// Package suite runs YAML-described smoke checks against a scanning
// platform: log in, start scans, poll them to an expected outcome and
// verify their findings and reports.
package suite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/poller"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/report"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// Suite is a named list of scan cases.
type Suite struct {
	Name  string     `yaml:"name"`
	Login *bool      `yaml:"login,omitempty"` // default true
	Scans []ScanCase `yaml:"scans"`
}

// ScanCase is one scan to start and verify.
type ScanCase struct {
	Name       string         `yaml:"name,omitempty"`
	Target     string         `yaml:"target"`
	Type       string         `yaml:"type,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	Expect     Expect         `yaml:"expect,omitempty"`
	Report     ReportSpec     `yaml:"report,omitempty"`
}

// Expect lists the assertions made on a scan.
type Expect struct {
	Outcome     string `yaml:"outcome,omitempty"` // completed (default), failed or timed_out
	MinFindings *int   `yaml:"min_findings,omitempty"`
	MaxFindings *int   `yaml:"max_findings,omitempty"`
	MaxSeverity string `yaml:"max_severity,omitempty"`
}

// ReportSpec asks for local rendering and platform report generation.
type ReportSpec struct {
	Formats  []string `yaml:"formats,omitempty"`
	Platform bool     `yaml:"platform,omitempty"`
	Format   string   `yaml:"format,omitempty"` // platform report format
}

// DisplayName is Name or, when empty, the target.
func (c ScanCase) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Target
}

// ExpectedOutcome is the outcome the poll check requires.
func (c ScanCase) ExpectedOutcome() poller.Outcome {
	if c.Expect.Outcome == "" {
		return poller.Completed
	}
	return poller.Outcome(strings.ToLower(c.Expect.Outcome))
}

// LoginEnabled reports whether the suite starts with a login check.
func (s Suite) LoginEnabled() bool { return s.Login == nil || *s.Login }

// Parse decodes a suite and rejects unknown fields.
func Parse(r io.Reader) (Suite, error) {
	var s Suite
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return s, errors.New("suite: empty document")
		}
		return s, fmt.Errorf("suite: parse: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// LoadFile reads a suite from path. The file name is the default suite name.
func LoadFile(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("suite: read %s: %w", path, err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Validate checks every scan case.
func (s Suite) Validate() error {
	if len(s.Scans) == 0 {
		return errors.New("suite: no scans defined")
	}
	var errs []error
	for i, c := range s.Scans {
		prefix := fmt.Sprintf("scans[%d]", i)
		if strings.TrimSpace(c.Target) == "" {
			errs = append(errs, fmt.Errorf("%s: target is required", prefix))
		}
		switch c.ExpectedOutcome() {
		case poller.Completed, poller.Failed, poller.TimedOut:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown outcome %q", prefix, c.Expect.Outcome))
		}
		if c.Expect.MaxSeverity != "" && !schema.ParseSeverity(c.Expect.MaxSeverity).IsValid() {
			errs = append(errs, fmt.Errorf("%s: unknown severity %q", prefix, c.Expect.MaxSeverity))
		}
		if lo, hi := c.Expect.MinFindings, c.Expect.MaxFindings; lo != nil && hi != nil && *lo > *hi {
			errs = append(errs, fmt.Errorf("%s: min_findings > max_findings", prefix))
		}
		if len(c.Report.Formats) > 0 {
			if _, err := report.ParseFormats(strings.Join(c.Report.Formats, ",")); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("suite: invalid: %w", errors.Join(errs...))
	}
	return nil
}
