package scanners

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

func decode(t *testing.T, s string) []map[string]any {
	t.Helper()
	var raw []map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return raw
}

func TestNormalizeResults_PlatformShape(t *testing.T) {
	raw := decode(t, `[
		{"title":"Outdated WordPress core","severity":"HIGH","description":"5.8 is EOL",
		 "affected_component":"wp-core","recommendation":"Upgrade","cve":"CVE-2023-1234",
		 "cvss":"7.5","details":{"version":"5.8"},"plugin":"core"},
		{"name":"Missing HSTS","risk":"low","affectedComponent":"/"}
	]`)

	got := NormalizeResults(raw)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "Outdated WordPress core", first.Title)
	assert.Equal(t, schema.SeverityHigh, first.Severity)
	assert.Equal(t, "wp-core", first.AffectedComponent)
	assert.Equal(t, "Upgrade", first.Recommendation)
	assert.Equal(t, "CVE-2023-1234", first.CVE)
	require.NotNil(t, first.CVSS)
	assert.InDelta(t, 7.5, *first.CVSS, 1e-9)
	assert.Equal(t, "5.8", first.Details["version"])
	assert.Equal(t, "core", first.Details["plugin"])
	assert.NotContains(t, first.Details, "title")

	second := got[1]
	assert.Equal(t, "Missing HSTS", second.Title)
	assert.Equal(t, schema.SeverityLow, second.Severity)
	assert.Equal(t, "/", second.AffectedComponent)
	assert.Nil(t, second.CVSS)
}

func TestNormalizeResult_NucleiShape(t *testing.T) {
	raw := decode(t, `[{"template-id":"tech-detect","matched-at":"https://example.com",
		"info":{"name":"Tech detect","severity":"info","description":"Detected nginx"}}]`)

	f := NormalizeResult(raw[0])
	assert.Equal(t, "tech-detect", f.Title)
	assert.Equal(t, schema.SeverityInfo, f.Severity)
	assert.Equal(t, "Detected nginx", f.Description)
	assert.Equal(t, "https://example.com", f.AffectedComponent)
}

func TestNormalizeResult_Defaults(t *testing.T) {
	f := NormalizeResult(map[string]any{})
	assert.Equal(t, "Untitled finding", f.Title)
	assert.Equal(t, schema.SeverityInfo, f.Severity)
	assert.Nil(t, f.Details)
}

func TestNormalizeResults_KeepsOrder(t *testing.T) {
	raw := decode(t, `[{"title":"c","severity":"info"},{"title":"a","severity":"critical"},{"title":"b","severity":"medium"}]`)
	got := NormalizeResults(raw)
	titles := []string{got[0].Title, got[1].Title, got[2].Title}
	assert.Equal(t, []string{"c", "a", "b"}, titles)
}
