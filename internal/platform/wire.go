package platform

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/scanners"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// unwrapEnvelope strips a {"data": ...} wrapper when present. Deployments
// disagree on whether responses are wrapped, so both shapes are accepted.
func unwrapEnvelope(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return raw
	}
	data, ok := env["data"]
	if !ok {
		return raw
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return data
	}
	return raw
}

// scanPayload accepts the field spellings seen across platform versions.
type scanPayload struct {
	ID       schema.ScanID `json:"id"`
	AltID    schema.ScanID `json:"_id"`
	ScanID   schema.ScanID `json:"scanId"`
	Target   string        `json:"target"`
	URL      string        `json:"url"`
	Type     string        `json:"type"`
	ScanType string        `json:"scanType"`
	Snake    string        `json:"scan_type"`
	Status   string        `json:"status"`
	Progress any           `json:"progress"`

	Results  []map[string]any `json:"results"`
	Findings []map[string]any `json:"findings"`

	ErrorMessage string `json:"error_message"`
	ErrorCamel   string `json:"errorMessage"`
	Error        string `json:"error"`

	CreatedAt      *time.Time `json:"created_at"`
	CreatedCamel   *time.Time `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updated_at"`
	UpdatedCamel   *time.Time `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completed_at"`
	CompletedCamel *time.Time `json:"completedAt"`
}

func (p scanPayload) toScan() *schema.Scan {
	s := &schema.Scan{
		ID:           firstID(p.ID, p.AltID, p.ScanID),
		Target:       firstNonEmpty(p.Target, p.URL),
		Type:         firstNonEmpty(p.Type, p.ScanType, p.Snake),
		Status:       schema.Status(strings.ToLower(strings.TrimSpace(p.Status))),
		ErrorMessage: firstNonEmpty(p.ErrorMessage, p.ErrorCamel, p.Error),
		CreatedAt:    firstTime(p.CreatedAt, p.CreatedCamel),
		UpdatedAt:    firstTime(p.UpdatedAt, p.UpdatedCamel),
		CompletedAt:  firstTime(p.CompletedAt, p.CompletedCamel),
	}
	if f, ok := schema.ParseFloat(p.Progress); ok {
		s.Progress = schema.ClampProgress(int(f))
	}
	raw := p.Results
	if len(raw) == 0 {
		raw = p.Findings
	}
	if len(raw) > 0 {
		s.Results = scanners.NormalizeResults(raw)
	}
	return s
}

// reportList decodes either a bare array or {"reports": [...]}.
type reportList []schema.Report

func (l *reportList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var arr []schema.Report
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var obj struct {
		Reports []schema.Report `json:"reports"`
		Items   []schema.Report `json:"items"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Reports != nil {
		*l = obj.Reports
	} else {
		*l = obj.Items
	}
	return nil
}

func firstID(ids ...schema.ScanID) schema.ScanID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			return t
		}
	}
	return nil
}
