package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Dataset defines tabular content with column order given by Headers.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Field is one label/value line in a document header block.
type Field struct {
	Label string
	Value string
}

// Document is a single-record report: a title, a block of fields and an
// optional table section.
type Document struct {
	Title        string
	Fields       []Field
	SectionTitle string
	Table        Dataset
}

// PDFExporter renders documents into A4 PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates the PDF bytes for doc.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return nil, fmt.Errorf("pdf requires a title")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 14)
	pdf.MultiCell(0, 8, tr(doc.Title), "", "C", false)
	pdf.Ln(4)

	for _, field := range doc.Fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 6, tr(field.Label), "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		value := field.Value
		if value == "" {
			value = "-"
		}
		pdf.MultiCell(0, 6, tr(value), "", "", false)
	}

	if len(doc.Table.Headers) > 0 {
		pdf.Ln(4)
		if doc.SectionTitle != "" {
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(0, 8, tr(doc.SectionTitle), "", 1, "", false, 0, "")
		}
		colWidth := 180.0 / float64(len(doc.Table.Headers))
		pdf.SetFont("Arial", "B", 9)
		for _, header := range doc.Table.Headers {
			pdf.CellFormat(colWidth, 7, tr(header), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		if len(doc.Table.Rows) == 0 {
			pdf.CellFormat(180, 7, "no entries", "1", 1, "C", false, 0, "")
		}
		for _, row := range doc.Table.Rows {
			for _, header := range doc.Table.Headers {
				pdf.CellFormat(colWidth, 7, tr(truncate(row[header], 60)), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
