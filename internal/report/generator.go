// Package report renders completed scans as text, HTML and PDF documents.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// Format is an output format of Render.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

// PDF engines.
const (
	EngineNative = "native"
	EngineChrome = "chrome"
)

// ParseFormats parses a comma separated format list such as "html,pdf".
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := map[Format]bool{}
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.TrimSpace(strings.ToLower(part)))
		switch f {
		case "":
			continue
		case "txt":
			f = FormatText
		case FormatText, FormatHTML, FormatPDF, FormatJSON:
		default:
			return nil, fmt.Errorf("unknown report format %q", part)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no report format given")
	}
	return out, nil
}

// RenderOptions selects how PDFs are produced.
type RenderOptions struct {
	PDFEngine string // native (default) or chrome
	PDFFont   string // TrueType font for the native engine
	Chrome    ChromeOptions
}

// LoadScanResult reads results.json from a scan result directory.
func LoadScanResult(fromDir string) (schema.ScanResult, error) {
	var res schema.ScanResult
	data, err := os.ReadFile(filepath.Join(fromDir, "results.json"))
	if err != nil {
		return res, fmt.Errorf("read results.json: %w", err)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("parse results.json: %w", err)
	}
	return res, nil
}

// Render writes the requested formats into outDir and returns the path of
// each written file. The json format refers to the existing results.json.
func Render(ctx context.Context, doc Document, outDir string, formats []Format, opts RenderOptions) (map[Format]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create out dir: %w", err)
	}

	out := map[Format]string{}
	want := map[Format]bool{}
	for _, f := range formats {
		want[f] = true
	}
	chrome := want[FormatPDF] && strings.EqualFold(opts.PDFEngine, EngineChrome)

	if want[FormatText] {
		var buf bytes.Buffer
		if err := WriteText(&buf, doc); err != nil {
			return out, err
		}
		p, err := writeFile(outDir, "report.txt", buf.Bytes())
		if err != nil {
			return out, err
		}
		out[FormatText] = p
	}

	if want[FormatHTML] || chrome {
		var buf bytes.Buffer
		if err := WriteHTML(&buf, doc); err != nil {
			return out, err
		}
		p, err := writeFile(outDir, "report.html", buf.Bytes())
		if err != nil {
			return out, err
		}
		out[FormatHTML] = p
	}

	if want[FormatPDF] {
		if chrome {
			p, err := PrintPDF(ctx, out[FormatHTML], opts.Chrome)
			if err != nil {
				return out, err
			}
			out[FormatPDF] = p
		} else {
			var buf bytes.Buffer
			if err := WritePDF(&buf, doc, PDFOptions{FontFile: opts.PDFFont}); err != nil {
				return out, err
			}
			p, err := writeFile(outDir, "report.pdf", buf.Bytes())
			if err != nil {
				return out, err
			}
			out[FormatPDF] = p
		}
	}

	if want[FormatJSON] {
		p := filepath.Join(outDir, "results.json")
		if _, err := os.Stat(p); err == nil {
			out[FormatJSON] = p
		}
	}
	return out, nil
}

func writeFile(dir, name string, data []byte) (string, error) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return p, nil
}
