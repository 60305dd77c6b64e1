// Package export renders finished book projects into downloadable documents
// and prepares store metadata for publishing platforms.
package export

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"BookEmpire-server/models"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatEPUB Format = "epub"
	FormatDOCX Format = "docx"
	FormatMOBI Format = "mobi"
)

var (
	ErrInvalidFormat  = errors.New("invalid export format")
	ErrNotImplemented = errors.New("export format not implemented yet")
)

// ParseFormat resolves the ?format= query value. An empty value means PDF.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FormatPDF, nil
	case FormatPDF, FormatEPUB:
		return f, nil
	case FormatDOCX, FormatMOBI:
		return f, fmt.Errorf("%s: %w", strings.ToUpper(string(f)), ErrNotImplemented)
	}
	return "", ErrInvalidFormat
}

func (f Format) ContentType() string {
	switch f {
	case FormatEPUB:
		return "application/epub+zip"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Document is a rendered export ready to stream.
type Document struct {
	Format      Format
	Filename    string
	ContentType string
	Data        []byte
}

// Book is a project together with its chapters in reading order.
type Book struct {
	Project  *models.BookProject
	Chapters []models.BookChapter
}

type Renderer struct {
	EPUB EPUBOptions
}

func (r Renderer) Render(b Book, f Format) (*Document, error) {
	var (
		data []byte
		err  error
	)
	switch f {
	case FormatPDF:
		data, err = RenderPDF(b)
	case FormatEPUB:
		data, err = RenderEPUB(b, r.EPUB)
	default:
		return nil, ErrInvalidFormat
	}
	if err != nil {
		return nil, err
	}
	return &Document{
		Format:      f,
		Filename:    Filename(b.Project.Title, f),
		ContentType: f.ContentType(),
		Data:        data,
	}, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename turns a title into an ASCII-only download name.
func Filename(title string, f Format) string {
	base := unsafeFilenameChars.ReplaceAllString(title, "_")
	if base == "" {
		base = "book"
	}
	return base + "." + string(f)
}

// Paragraphs splits chapter text on blank lines and drops empty blocks.
func Paragraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// heading reports whether a paragraph is a markdown-style subheading and
// returns its text.
func heading(p string) (string, bool) {
	if !strings.HasPrefix(p, "#") || strings.Contains(p, "\n") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(p, "#")), true
}
