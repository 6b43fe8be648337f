package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	reportpkg "github.com/yorozuya-cybersecurity/yorosec-probe/internal/report"
	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
	"github.com/yorozuya-cybersecurity/yorosec-probe/pkg/utils"
)

func newReportCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Generate text/HTML/PDF reports from a scan result directory",
		Example: "yoroprobe report --from ./reports/https___shop.example_6f1c2a_20250911_131722 --format html,pdf",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := st.setup(cmd); err != nil {
				return err
			}
			defer st.close()
			return runReport(cmd, st)
		},
	}

	cmd.Flags().String("from", "", "Scan result directory (must contain results.json); defaults to the newest one")
	cmd.Flags().String("target", "", "With no --from, pick the newest result for this target")
	cmd.Flags().String("format", "text,html,pdf", "Output formats: text,html,pdf,json (json just points to results.json)")
	bindFlag(cmd.Flags(), "format", "report.format")
	addRenderFlags(cmd)
	return cmd
}

func addRenderFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("title", "", "Report title")
	fs.String("pdf-engine", reportpkg.EngineNative, "PDF engine: native or chrome")
	fs.String("chrome-path", "", "Chrome/Chromium binary for --pdf-engine chrome")
	fs.String("pdf-font", "", "TrueType font for native PDFs (default: bundled DejaVu Sans)")
	fs.Bool("upload", false, "Upload rendered files to the configured object storage")
	bindFlag(fs, "title", "report.title")
	bindFlag(fs, "pdf-engine", "report.pdf_engine")
	bindFlag(fs, "chrome-path", "report.chrome_path")
	bindFlag(fs, "pdf-font", "report.pdf_font")
}

func runReport(cmd *cobra.Command, st *state) error {
	from, _ := cmd.Flags().GetString("from")
	if from == "" {
		target, _ := cmd.Flags().GetString("target")
		dir, err := utils.LatestResultDir(st.cfg.Output, target)
		if err != nil {
			return fmt.Errorf("please provide --from pointing to the scan directory (with results.json): %w", err)
		}
		from = dir
	}

	res, err := reportpkg.LoadScanResult(from)
	if err != nil {
		return err
	}
	return st.renderReports(cmd.Context(), cmd.OutOrStdout(), res, from, st.cfg.Report.Format, uploadRequested(cmd))
}

func uploadRequested(cmd *cobra.Command) bool {
	up, _ := cmd.Flags().GetBool("upload")
	return up
}

// renderReports builds the report document for res and writes the
// requested formats into dir.
func (st *state) renderReports(ctx context.Context, out io.Writer, res schema.ScanResult, dir, formatList string, upload bool) error {
	formats, err := reportpkg.ParseFormats(formatList)
	if err != nil {
		return err
	}
	doc, err := reportpkg.Build(res.Scan, reportpkg.Options{
		Title:          st.cfg.Report.Title,
		IncludeDetails: st.cfg.Report.IncludeDetails,
	})
	if errors.Is(err, reportpkg.ErrScanNotCompleted) {
		return fmt.Errorf("cannot report on %s: scan is %s", dir, res.Scan.Status)
	}
	if err != nil {
		return err
	}

	paths, err := reportpkg.Render(ctx, doc, dir, formats, st.cfg.RenderOptions())
	if errors.Is(err, reportpkg.ErrChromeNotFound) {
		fmt.Fprintf(out, "⚠️  PDF generation failed: %v\n", err)
	} else if err != nil {
		return err
	}

	var written []string
	for _, f := range []reportpkg.Format{reportpkg.FormatText, reportpkg.FormatHTML, reportpkg.FormatPDF, reportpkg.FormatJSON} {
		p, ok := paths[f]
		if !ok {
			continue
		}
		written = append(written, p)
		switch f {
		case reportpkg.FormatText:
			fmt.Fprintf(out, "🧾 Text report: %s\n", p)
		case reportpkg.FormatHTML:
			fmt.Fprintf(out, "📝 HTML report: %s\n", p)
		case reportpkg.FormatPDF:
			fmt.Fprintf(out, "📄 PDF report:  %s\n", p)
		case reportpkg.FormatJSON:
			fmt.Fprintf(out, "📦 JSON already exists at: %s\n", p)
		}
	}
	if doc.Empty() {
		fmt.Fprintf(out, "   %s\n", reportpkg.NoIssuesText)
	}

	if upload {
		if !st.cfg.Storage.Enabled() {
			fmt.Fprintln(out, "⚠️  --upload given but storage.endpoint is not configured")
			return nil
		}
		return st.upload(ctx, out, string(res.Scan.ID), written)
	}
	return nil
}
