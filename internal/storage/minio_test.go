package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "reports/scan-1/report.pdf", ObjectKey("/reports/", "scan-1", "report.pdf"))
	assert.Equal(t, "scan-1/report.pdf", ObjectKey("", "scan-1", "report.pdf"))
	assert.Equal(t, "report.pdf", ObjectKey("", "", "report.pdf"))
}

func TestObjectURL(t *testing.T) {
	ep, err := url.Parse("https://minio.local:9000")
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local:9000/artifacts/a/b.html", ObjectURL(ep, "artifacts", "a/b.html"))
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"results.json": "application/json",
		"report.HTML":  "text/html; charset=utf-8",
		"report.pdf":   "application/pdf",
		"report.txt":   "text/plain; charset=utf-8",
		"blob":         "application/octet-stream",
	}
	for name, want := range cases {
		assert.Equal(t, want, ContentType(name), name)
	}
}

func TestConfig(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Endpoint: "localhost:9000"}.Enabled())

	_, err := New(context.Background(), Config{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "bucket are required")
}
