package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScanID is the opaque identifier the platform assigns to a scan.
// Some deployments send it as a JSON number, so both forms decode.
type ScanID string

func (id *ScanID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ScanID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("scan id: %w", err)
	}
	*id = ScanID(n.String())
	return nil
}

func (id ScanID) String() string { return string(id) }

// Status is the lifecycle state of a scan on the platform.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further state changes can follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Finding is one reported issue inside a completed scan.
type Finding struct {
	Title             string         `json:"title"`
	Severity          Severity       `json:"severity"`
	Description       string         `json:"description,omitempty"`
	AffectedComponent string         `json:"affected_component,omitempty"`
	Recommendation    string         `json:"recommendation,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	CVE               string         `json:"cve,omitempty"`
	CVSS              *float64       `json:"cvss,omitempty"`
}

// Scan is the platform's view of one unit of scanning work.
type Scan struct {
	ID           ScanID     `json:"id"`
	Target       string     `json:"target"`
	Type         string     `json:"type"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Results      []Finding  `json:"results,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ClampProgress bounds p to 0..100.
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// ScanRequest is the body of POST /scans.
type ScanRequest struct {
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ReportRequest is the body of POST /reports/generate.
type ReportRequest struct {
	ScanID         ScanID `json:"scanId"`
	Format         string `json:"format"`
	IncludeDetails bool   `json:"includeDetails"`
}

// ReportJob acknowledges a report generation request.
type ReportJob struct {
	ID      string `json:"id"`
	ScanID  ScanID `json:"scanId"`
	Format  string `json:"format"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is one entry of GET /reports.
type Report struct {
	ID        string     `json:"id"`
	ScanID    ScanID     `json:"scanId"`
	Format    string     `json:"format"`
	Status    string     `json:"status"`
	URL       string     `json:"url,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ScanResult is a scan snapshot saved locally after polling
type ScanResult struct {
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
	Attempts  int       `json:"attempts"`
	Scan      Scan      `json:"scan"`
}

// ParseFloat accepts CVSS scores sent as numbers or numeric strings.
func ParseFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case int:
		return float64(x), true
	}
	return 0, false
}
