package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanID_DecodesStringAndNumber(t *testing.T) {
	var s struct {
		A ScanID `json:"a"`
		B ScanID `json:"b"`
		C ScanID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"abc-1","b":42,"c":null}`), &s))
	assert.Equal(t, ScanID("abc-1"), s.A)
	assert.Equal(t, ScanID("42"), s.B)
	assert.Equal(t, ScanID(""), s.C)
}

func TestScanID_RejectsObjects(t *testing.T) {
	var id ScanID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &id))
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, Status("queued").Terminal())
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, ClampProgress(-5))
	assert.Equal(t, 55, ClampProgress(55))
	assert.Equal(t, 100, ClampProgress(250))
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"":              SeverityInfo,
		"HIGH":          SeverityHigh,
		" Critical ":    SeverityCritical,
		"informational": SeverityInfo,
		"moderate":      SeverityMedium,
		"weird":         Severity("weird"),
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseSeverity(in), "input %q", in)
	}
}

func TestSeverity_RankAndValidity(t *testing.T) {
	for i := 1; i < len(SeverityOrder); i++ {
		assert.Greater(t, SeverityOrder[i-1].Rank(), SeverityOrder[i].Rank())
		assert.True(t, SeverityOrder[i].IsValid())
	}
	assert.Equal(t, 0, Severity("weird").Rank())
	assert.False(t, Severity("weird").IsValid())
}

func TestParseFloat(t *testing.T) {
	f, ok := ParseFloat("9.8")
	require.True(t, ok)
	assert.InDelta(t, 9.8, f, 1e-9)

	f, ok = ParseFloat(7.5)
	require.True(t, ok)
	assert.InDelta(t, 7.5, f, 1e-9)

	_, ok = ParseFloat("n/a")
	assert.False(t, ok)
	_, ok = ParseFloat(nil)
	assert.False(t, ok)
}
