package export

import (
	"bytes"
	"fmt"
	"strings"

	epub "github.com/go-shiori/go-epub"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

const epubPublisher = "BookEmpire AI"

type EPUBOptions struct {
	// EmbedCover downloads the project's cover image into the package.
	EmbedCover bool
	// Log receives cover download failures. The zero value discards them.
	Log zerolog.Logger
}

var textPolicy = bluemonday.StrictPolicy()

// RenderEPUB builds an EPUB with one section per chapter.
func RenderEPUB(b Book, opts EPUBOptions) ([]byte, error) {
	p := b.Project
	e, err := epub.NewEpub(p.Title)
	if err != nil {
		return nil, fmt.Errorf("create epub: %w", err)
	}
	e.SetAuthor(p.AuthorName)
	if p.Language != "" {
		e.SetLang(p.Language)
	} else {
		e.SetLang("en")
	}
	if p.Description != "" {
		e.SetDescription(p.Description)
	}
	e.SetIdentifier("urn:uuid:" + p.ID)

	if opts.EmbedCover && p.CoverURL != "" {
		if img, err := e.AddImage(p.CoverURL, "cover.png"); err != nil {
			opts.Log.Warn().Err(err).Str("book_project_id", p.ID).Msg("cover not embedded")
		} else {
			e.SetCover(img, "")
		}
	}

	for _, ch := range b.Chapters {
		title := fmt.Sprintf("Chapter %d: %s", ch.ChapterNumber, ch.Title)
		filename := fmt.Sprintf("chapter-%03d.xhtml", ch.ChapterNumber)
		if _, err := e.AddSection(chapterHTML(title, ch.Content), title, filename, ""); err != nil {
			return nil, fmt.Errorf("add chapter %d: %w", ch.ChapterNumber, err)
		}
	}

	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write epub: %w", err)
	}
	return buf.Bytes(), nil
}

// chapterHTML converts generated plain text into section markup. Model
// output is untrusted, so every block is reduced to escaped text first.
func chapterHTML(title, content string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", textPolicy.Sanitize(title))
	for _, para := range Paragraphs(content) {
		if h, ok := heading(para); ok {
			fmt.Fprintf(&sb, "<h2>%s</h2>\n", textPolicy.Sanitize(h))
			continue
		}
		text := textPolicy.Sanitize(para)
		text = strings.ReplaceAll(text, "\n", "<br/>")
		fmt.Fprintf(&sb, "<p>%s</p>\n", text)
	}
	return sb.String()
}
