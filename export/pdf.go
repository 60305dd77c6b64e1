package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMargin     = 72.0
	pdfFooterY    = -50.0
	pdfBodySize   = 12.0
	pdfLineHeight = 17.0
)

// RenderPDF lays out a US Letter book: title page, linked table of contents
// and one chapter per page run. Every page but the first gets a footer.
func RenderPDF(b Book) ([]byte, error) {
	p := b.Project
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(p.Title, true)
	pdf.SetAuthor(p.AuthorName, true)
	pdf.SetCreator("BookEmpire", true)

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		if pdf.PageNo() == 1 {
			return
		}
		pdf.SetY(pdfFooterY)
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("%s - %d", p.Title, pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	// Title page.
	pdf.AddPage()
	pdf.SetY(200)
	pdf.SetFont("Helvetica", "B", 36)
	pdf.MultiCell(0, 44, tr(p.Title), "", "C", false)
	if p.Subtitle != "" {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 20)
		pdf.MultiCell(0, 26, tr(p.Subtitle), "", "C", false)
	}
	pdf.Ln(36)
	pdf.SetFont("Helvetica", "", 18)
	pdf.MultiCell(0, 24, tr("by "+p.AuthorName), "", "C", false)
	if p.Description != "" {
		pdf.Ln(72)
		pdf.SetFont("Helvetica", "", pdfBodySize)
		pdf.MultiCell(0, pdfLineHeight, tr(p.Description), "", "J", false)
	}

	// Table of contents.
	links := make([]int, len(b.Chapters))
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 30, "Table of Contents", "", 1, "C", false, 0, "")
	pdf.Ln(24)
	pdf.SetFont("Helvetica", "", pdfBodySize)
	for i, ch := range b.Chapters {
		links[i] = pdf.AddLink()
		pdf.CellFormat(0, 20, tr(fmt.Sprintf("%d. %s", ch.ChapterNumber, ch.Title)), "", 1, "L", false, links[i], "")
	}

	for i, ch := range b.Chapters {
		pdf.AddPage()
		pdf.SetLink(links[i], 0, -1)

		pdf.SetFont("Helvetica", "B", 28)
		pdf.CellFormat(0, 34, tr(fmt.Sprintf("Chapter %d", ch.ChapterNumber)), "", 1, "C", false, 0, "")
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 20)
		pdf.MultiCell(0, 26, tr(ch.Title), "", "C", false)
		pdf.Ln(24)

		for _, para := range Paragraphs(ch.Content) {
			if h, ok := heading(para); ok {
				pdf.SetFont("Helvetica", "B", 14)
				pdf.MultiCell(0, 20, tr(h), "", "L", false)
				pdf.Ln(4)
				continue
			}
			pdf.SetFont("Helvetica", "", pdfBodySize)
			pdf.MultiCell(0, pdfLineHeight, tr(para), "", "J", false)
			pdf.Ln(pdfBodySize)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
