package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"BookEmpire-server/metrics"
	"BookEmpire-server/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrBookNotFound = errors.New("book project not found")

const (
	wordsPerChapter = 5000
	keywordExcerpt  = 2000
)

// CoverStyles are rendered in order; the first successful one is selected.
var CoverStyles = []string{
	"professional minimalist",
	"bold modern design",
	"elegant classic style",
}

// ChapterCount returns how many chapters a book of target words gets.
func ChapterCount(target int) int {
	n := int(math.Ceil(float64(target) / wordsPerChapter))
	if n < 1 {
		return 1
	}
	return n
}

// CountWords counts whitespace-separated fields.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// NormalizeOutline renumbers chapters 1..n in the given order and fills in
// missing titles and word targets.
func NormalizeOutline(chapters []OutlineChapter, target int) []OutlineChapter {
	if len(chapters) == 0 {
		return nil
	}
	perChapter := int(math.Ceil(float64(target) / float64(len(chapters))))
	out := make([]OutlineChapter, len(chapters))
	for i, ch := range chapters {
		ch.Number = i + 1
		if strings.TrimSpace(ch.Title) == "" {
			ch.Title = fmt.Sprintf("Chapter %d", ch.Number)
		}
		if ch.TargetWordCount <= 0 {
			ch.TargetWordCount = perChapter
		}
		out[i] = ch
	}
	return out
}

// DraftingProgress maps k of n drafted chapters onto 15..75.
func DraftingProgress(k, n int) int {
	if n <= 0 {
		return 75
	}
	return int(math.Round(15 + 60*float64(k)/float64(n)))
}

func excerpt(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// Pipeline turns a book project into a finished manuscript. Every stage
// persists a checkpoint, so a retried run continues after the last
// completed stage and never redrafts finished chapters.
type Pipeline struct {
	db     *gorm.DB
	text   TextGenerator
	covers CoverGenerator
	store  AssetStore
	log    zerolog.Logger
}

func NewPipeline(db *gorm.DB, text TextGenerator, covers CoverGenerator, store AssetStore, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		db:     db,
		text:   text,
		covers: covers,
		store:  store,
		log:    log.With().Str("component", "pipeline").Logger(),
	}
}

type run struct {
	*Pipeline
	book *models.BookProject
	cfg  GenerationConfig
	log  zerolog.Logger
	step string
}

// Run executes the remaining stages for one project. On error the project is
// marked failed and the error is returned so the queue can retry.
func (p *Pipeline) Run(ctx context.Context, payload BookPayload) error {
	book, err := models.GetBookProject(p.db, payload.BookProjectID)
	if errors.Is(err, models.ErrNotFound) {
		return ErrBookNotFound
	}
	if err != nil {
		return fmt.Errorf("load book project: %w", err)
	}
	if book.Status == models.BookStatusCompleted {
		return nil
	}

	cfg := payload.Config
	if cfg.TargetWordCount <= 0 {
		cfg.TargetWordCount = book.TargetWordCount
	}
	if cfg.Genre == "" {
		cfg.Genre = book.Genre
	}
	if cfg.Language == "" {
		cfg.Language = book.Language
	}

	r := &run{
		Pipeline: p,
		book:     book,
		cfg:      cfg,
		log: p.log.With().
			Str("book_project_id", book.ID).
			Str("user_id", book.UserID).
			Logger(),
	}

	if err := models.BeginBookAttempt(p.db, book.ID); err != nil {
		return fmt.Errorf("begin attempt: %w", err)
	}
	r.log.Info().Str("resume_from", orDefault(book.GenerationStage, "start")).Msg("book generation started")
	r.progress(5, "Initializing")

	if err := r.execute(ctx); err != nil {
		r.log.Error().Err(err).Str("step", r.step).Msg("book generation failed")
		if mErr := models.MarkBookFailed(p.db, book.ID, r.step, err.Error()); mErr != nil {
			r.log.Error().Err(mErr).Msg("mark failed")
		}
		return err
	}
	r.log.Info().Msg("book generation completed")
	return nil
}

func (r *run) execute(ctx context.Context) error {
	stages := []struct {
		checkpoint string
		name       string
		fn         func(context.Context) error
	}{
		{models.StageOutlined, "outline", r.outline},
		{models.StageDrafted, "drafting", r.draft},
		{models.StageCovered, "covers", r.generateCovers},
		{models.StageOptimized, "seo", r.optimize},
		{models.StageCompleted, "finalize", r.finalize},
	}
	for _, s := range stages {
		if models.StageReached(r.book.GenerationStage, s.checkpoint) {
			r.log.Debug().Str("stage", s.name).Msg("stage already done, skipping")
			continue
		}
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			return err
		}
		metrics.ObserveStage(s.name, start)
		r.book.GenerationStage = s.checkpoint
	}
	return nil
}

func (r *run) progress(pct int, step string) {
	r.step = step
	if err := models.UpdateBookProgress(r.db, r.book.ID, pct, step); err != nil {
		r.log.Warn().Err(err).Int("progress", pct).Msg("progress update failed")
	}
}

func (r *run) outline(ctx context.Context) error {
	r.step = "Generating outline"
	raw, err := r.text.GenerateOutline(ctx, OutlineRequest{
		Title:           r.book.Title,
		Subtitle:        r.book.Subtitle,
		Concept:         r.book.InputContent,
		Genre:           r.cfg.Genre,
		Language:        r.cfg.Language,
		TargetWordCount: r.cfg.TargetWordCount,
		Chapters:        ChapterCount(r.cfg.TargetWordCount),
	})
	if err != nil {
		return fmt.Errorf("generate outline: %w", err)
	}
	outline := NormalizeOutline(raw, r.cfg.TargetWordCount)
	if len(outline) == 0 {
		return errors.New("generate outline: no chapters returned")
	}

	rows := make([]models.BookChapter, len(outline))
	for i, ch := range outline {
		rows[i] = models.BookChapter{
			ID:              uuid.NewString(),
			BookProjectID:   r.book.ID,
			ChapterNumber:   ch.Number,
			Title:           ch.Title,
			Outline:         ch.Outline,
			TargetWordCount: ch.TargetWordCount,
			Status:          models.ChapterStatusPending,
		}
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_project_id = ?", r.book.ID).Delete(&models.BookChapter{}).Error; err != nil {
			return err
		}
		if err := models.BatchCreateChapters(tx, rows); err != nil {
			return err
		}
		return models.SetBookStage(tx, r.book.ID, models.StageOutlined, nil)
	})
	if err != nil {
		return fmt.Errorf("save outline: %w", err)
	}
	r.log.Info().Int("chapters", len(rows)).Msg("outline saved")
	r.progress(15, "Outline complete")
	return nil
}

func (r *run) draft(ctx context.Context) error {
	chapters, err := models.GetChapters(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("load chapters: %w", err)
	}
	if len(chapters) == 0 {
		return errors.New("drafting: project has no chapters")
	}

	total := len(chapters)
	for i := range chapters {
		ch := &chapters[i]
		if ch.Status == models.ChapterStatusCompleted {
			continue
		}
		r.step = fmt.Sprintf("Generating chapter %d/%d", i+1, total)

		var previous string
		if i > 0 {
			previous = "Previous chapter covered: " + chapters[i-1].Outline
		}
		content, err := r.text.GenerateChapter(ctx, ChapterRequest{
			BookTitle:       r.book.Title,
			Number:          ch.ChapterNumber,
			Title:           ch.Title,
			Outline:         ch.Outline,
			TargetWordCount: ch.TargetWordCount,
			Genre:           r.cfg.Genre,
			Language:        r.cfg.Language,
			PreviousSummary: previous,
		})
		if err != nil {
			return fmt.Errorf("generate chapter %d: %w", ch.ChapterNumber, err)
		}
		if err := ch.Complete(r.db, content, CountWords(content)); err != nil {
			return fmt.Errorf("save chapter %d: %w", ch.ChapterNumber, err)
		}
		r.progress(DraftingProgress(i+1, total), fmt.Sprintf("Chapter %d complete", i+1))
	}

	words, err := models.SumChapterWords(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("sum chapter words: %w", err)
	}
	if err := models.SetBookStage(r.db, r.book.ID, models.StageDrafted, map[string]interface{}{
		"actual_word_count": words,
	}); err != nil {
		return fmt.Errorf("save drafting checkpoint: %w", err)
	}
	r.book.ActualWordCount = words
	r.log.Info().Int("words", words).Int("chapters", total).Msg("drafting complete")
	return nil
}

func (r *run) generateCovers(ctx context.Context) error {
	r.progress(75, "Creating cover designs")

	if err := models.DeleteCovers(r.db, r.book.ID); err != nil {
		return fmt.Errorf("clear covers: %w", err)
	}

	folder := fmt.Sprintf("books/%s/covers", r.book.ID)
	selected := false
	for i, style := range CoverStyles {
		url, err := r.covers.GenerateCover(ctx, CoverRequest{
			Title:      r.book.Title,
			AuthorName: r.book.AuthorName,
			Genre:      r.cfg.Genre,
			Style:      style,
		})
		if err != nil {
			r.log.Warn().Err(err).Str("style", style).Msg("cover generation failed, skipping")
			continue
		}

		hosted, err := r.store.UploadFromURL(ctx, url, folder, "cover")
		if err != nil {
			return fmt.Errorf("upload cover %d: %w", i+1, err)
		}
		cover := models.BookCover{
			ID:            uuid.NewString(),
			BookProjectID: r.book.ID,
			Variant:       i + 1,
			Style:         style,
			CoverType:     "front",
			ImageURL:      hosted,
			ThumbnailURL:  hosted,
			DesignPrompt:  fmt.Sprintf("Design variation %d", i+1),
			IsSelected:    !selected,
		}
		if err := models.CreateCover(r.db, &cover); err != nil {
			return fmt.Errorf("save cover %d: %w", i+1, err)
		}
		selected = true
	}

	if err := models.SetBookStage(r.db, r.book.ID, models.StageCovered, nil); err != nil {
		return fmt.Errorf("save covers checkpoint: %w", err)
	}
	r.progress(90, "Covers generated")
	return nil
}

func (r *run) optimize(ctx context.Context) error {
	r.step = "Optimizing SEO"
	chapters, err := models.GetChapters(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("load chapters: %w", err)
	}
	parts := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		parts = append(parts, ch.Content)
	}

	keywords, err := r.text.GenerateKeywords(ctx, KeywordRequest{
		Title:   r.book.Title,
		Genre:   r.cfg.Genre,
		Excerpt: excerpt(strings.Join(parts, "\n\n"), keywordExcerpt),
	})
	if err != nil {
		return fmt.Errorf("generate keywords: %w", err)
	}
	if err := models.SetBookStage(r.db, r.book.ID, models.StageOptimized, map[string]interface{}{
		"seo_keywords": datatypes.JSONSlice[string](keywords),
	}); err != nil {
		return fmt.Errorf("save keywords: %w", err)
	}
	r.book.SeoKeywords = keywords
	r.progress(95, "SEO optimization complete")
	return nil
}

func (r *run) finalize(ctx context.Context) error {
	r.step = "Finalizing"
	chapters, err := models.GetChapters(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("load chapters: %w", err)
	}
	covers, err := models.GetCovers(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("load covers: %w", err)
	}
	words, err := models.SumChapterWords(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("sum chapter words: %w", err)
	}

	var coverURL string
	selected, err := models.SelectedCover(r.db, r.book.ID)
	if err != nil {
		return fmt.Errorf("load selected cover: %w", err)
	}
	if selected != nil {
		coverURL = selected.ImageURL
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.BookProject{}).Where("id = ?", r.book.ID).
			Update("actual_word_count", words).Error; err != nil {
			return err
		}
		if err := models.CompleteBook(tx, r.book.ID, r.book.SeoKeywords, coverURL); err != nil {
			return err
		}
		return models.LogActivity(tx, r.book.UserID, r.book.ID, models.ActivityGenerationCompleted,
			fmt.Sprintf("Successfully generated %q", r.book.Title),
			map[string]interface{}{
				"wordCount":    words,
				"chapterCount": len(chapters),
				"coverCount":   len(covers),
			})
	})
}
