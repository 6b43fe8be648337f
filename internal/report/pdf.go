package report

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	gofpdf "github.com/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/yorozuya-cybersecurity/yorosec-probe/internal/schema"
)

// PDFOptions controls native PDF output.
type PDFOptions struct {
	// NoCompress leaves content streams uncompressed so text is
	// searchable in the raw bytes.
	NoCompress bool
	// FontFile is a TrueType font used instead of the bundled DejaVu Sans,
	// e.g. a CJK font when findings are not in a Latin script.
	FontFile string
}

const pdfFont = "body"

var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	fontRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	fontBold []byte
	//go:embed fonts/DejaVuSansCondensed-Oblique.ttf
	fontItalic []byte
)

var pdfSeverityColors = map[schema.Severity][]int{
	schema.SeverityCritical: {127, 29, 29},
	schema.SeverityHigh:     {220, 38, 38},
	schema.SeverityMedium:   {217, 119, 6},
	schema.SeverityLow:      {37, 99, 235},
	schema.SeverityInfo:     {107, 114, 128},
}

func severityColor(sev schema.Severity) []int {
	if c, ok := pdfSeverityColors[sev]; ok {
		return c
	}
	return []int{128, 128, 128}
}

// registerFonts adds the UTF-8 body font in regular, bold and italic.
// A custom FontFile serves all three styles.
func registerFonts(pdf *gofpdf.Fpdf, fontFile string) error {
	regular, bold, italic := fontRegular, fontBold, fontItalic
	if fontFile != "" {
		b, err := os.ReadFile(fontFile)
		if err != nil {
			return fmt.Errorf("read pdf font: %w", err)
		}
		regular, bold, italic = b, b, b
	}
	pdf.AddUTF8FontFromBytes(pdfFont, "", regular)
	pdf.AddUTF8FontFromBytes(pdfFont, "B", bold)
	pdf.AddUTF8FontFromBytes(pdfFont, "I", italic)
	return pdf.Error()
}

// WritePDF renders doc as an A4 PDF. Text is written with a UTF-8 font so
// titles in any script survive.
func WritePDF(w io.Writer, doc Document, opts PDFOptions) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	if err := registerFonts(pdf, opts.FontFile); err != nil {
		return err
	}
	pdf.SetCompression(!opts.NoCompress)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator(doc.Generator, true)
	pdf.SetCreationDate(doc.GeneratedAt)
	pdf.SetModificationDate(doc.GeneratedAt)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AliasNbPages("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(pdfFont, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("%s - page %d/{nb}", doc.Generator, pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	addTitle(pdf, doc)
	addMetadata(pdf, doc)
	addSummary(pdf, doc)
	addFindings(pdf, doc)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func addTitle(pdf *gofpdf.Fpdf, doc Document) {
	pdf.SetFont(pdfFont, "B", 20)
	pdf.SetTextColor(30, 41, 59)
	pdf.CellFormat(0, 12, doc.Title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func addSectionHeader(pdf *gofpdf.Fpdf, title string) {
	pdf.Ln(4)
	pdf.SetFont(pdfFont, "B", 14)
	pdf.SetTextColor(30, 41, 59)
	pdf.CellFormat(0, 9, title, "B", 1, "L", false, 0, "")
	pdf.Ln(3)
}

func addMetadata(pdf *gofpdf.Fpdf, doc Document) {
	for _, f := range doc.Metadata {
		pdf.SetFont(pdfFont, "B", 10)
		pdf.SetTextColor(80, 80, 80)
		pdf.CellFormat(35, 6, f.Label, "", 0, "L", false, 0, "")
		pdf.SetFont(pdfFont, "", 10)
		pdf.SetTextColor(30, 30, 30)
		pdf.MultiCell(0, 6, f.Value, "", "L", false)
	}
}

func addSummary(pdf *gofpdf.Fpdf, doc Document) {
	addSectionHeader(pdf, "Severity Summary")
	titleCase := cases.Title(language.English)

	pdf.SetFont(pdfFont, "B", 10)
	pdf.SetFillColor(30, 41, 59)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(50, 8, "Severity", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Count", "1", 1, "C", true, 0, "")

	pdf.SetFont(pdfFont, "", 10)
	for _, c := range doc.Summary {
		col := severityColor(c.Severity)
		pdf.SetTextColor(col[0], col[1], col[2])
		pdf.CellFormat(50, 7, titleCase.String(string(c.Severity)), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", c.Count), "1", 1, "C", false, 0, "")
	}
	pdf.SetFont(pdfFont, "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(50, 7, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 7, fmt.Sprintf("%d", doc.Total), "1", 1, "C", false, 0, "")

	pdf.Ln(3)
	pdf.SetFont(pdfFont, "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Risk score: %d/100 (grade %s)", doc.Score, doc.Grade), "", 1, "L", false, 0, "")
}

func addFindings(pdf *gofpdf.Fpdf, doc Document) {
	if doc.Empty() {
		pdf.Ln(4)
		pdf.SetFont(pdfFont, "B", 12)
		pdf.SetTextColor(22, 163, 74)
		pdf.CellFormat(0, 8, NoIssuesText, "", 1, "L", false, 0, "")
		return
	}

	addSectionHeader(pdf, "Findings")
	for _, b := range doc.Findings {
		col := severityColor(b.Severity)

		pdf.SetFont(pdfFont, "B", 11)
		pdf.SetTextColor(col[0], col[1], col[2])
		pdf.MultiCell(0, 7, fmt.Sprintf("Finding #%d: %s", b.Index, b.Title), "", "L", false)

		pdfLine(pdf, "Severity", string(b.Severity))
		pdfLine(pdf, "Component", b.Component)
		pdfLine(pdf, "CVE", b.CVE)
		pdfLine(pdf, "CVSS", b.CVSS)
		pdfLine(pdf, "Description", b.Description)
		pdfLine(pdf, "Recommendation", b.Recommendation)
		for _, d := range b.Details {
			pdfLine(pdf, d.Label, d.Value)
		}
		pdf.Ln(4)
	}
}

func pdfLine(pdf *gofpdf.Fpdf, label, value string) {
	if value == "" {
		return
	}
	pdf.SetFont(pdfFont, "B", 9)
	pdf.SetTextColor(80, 80, 80)
	pdf.CellFormat(32, 5, label+":", "", 0, "L", false, 0, "")
	pdf.SetFont(pdfFont, "", 9)
	pdf.SetTextColor(40, 40, 40)
	pdf.MultiCell(0, 5, value, "", "L", false)
}
