package export

import (
	"strings"

	"BookEmpire-server/models"
)

const defaultListPrice = 9.99

// StoreMetadata is what an author pastes into a store's publishing form.
type StoreMetadata struct {
	Platform    string   `json:"platform"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Publisher   string   `json:"publisher,omitempty"`
	Keywords    []string `json:"keywords"`
	Categories  []string `json:"categories"`
	Language    string   `json:"language"`
	Price       float64  `json:"price"`
	Territories []string `json:"territories,omitempty"`
	AgeRating   string   `json:"ageRating,omitempty"`
	CoverURL    string   `json:"coverUrl,omitempty"`
	FileFormats []string `json:"fileFormats"`
}

// PrepareStoreMetadata builds listing metadata for a supported platform.
// The second result is false for unknown platforms.
func PrepareStoreMetadata(platform string, p *models.BookProject) (StoreMetadata, bool) {
	m := StoreMetadata{
		Platform:    platform,
		Title:       p.Title,
		Subtitle:    p.Subtitle,
		Author:      p.AuthorName,
		Description: p.Description,
		Categories:  []string{orGeneral(p.Genre)},
		Language:    orEnglish(p.Language),
		Price:       defaultListPrice,
		CoverURL:    p.CoverURL,
	}
	switch platform {
	case models.PlatformKDP:
		// KDP accepts at most seven keywords.
		m.Keywords = topKeywords(p.SeoKeywords, 7)
		m.Territories = []string{"WORLD"}
		m.FileFormats = []string{"EPUB", "PDF"}
	case models.PlatformAppleBooks:
		m.Keywords = topKeywords(p.SeoKeywords, 10)
		m.Publisher = epubPublisher
		m.AgeRating = "12+"
		m.FileFormats = []string{"EPUB"}
	default:
		return StoreMetadata{}, false
	}
	return m, true
}

func topKeywords(keywords []string, max int) []string {
	out := make([]string, 0, max)
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k == "" {
			continue
		}
		out = append(out, k)
		if len(out) == max {
			break
		}
	}
	return out
}

func orGeneral(genre string) string {
	if strings.TrimSpace(genre) == "" {
		return "General"
	}
	return genre
}

func orEnglish(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}
