package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"BookEmpire-server/metrics"

	"github.com/sashabaranov/go-openai"
)

// TextGenerator produces the written parts of a book.
type TextGenerator interface {
	GenerateOutline(ctx context.Context, req OutlineRequest) ([]OutlineChapter, error)
	GenerateChapter(ctx context.Context, req ChapterRequest) (string, error)
	GenerateKeywords(ctx context.Context, req KeywordRequest) ([]string, error)
}

type OutlineRequest struct {
	Title           string
	Subtitle        string
	Concept         string
	Genre           string
	Language        string
	TargetWordCount int
	Chapters        int
}

type OutlineChapter struct {
	Number          int    `json:"number"`
	Title           string `json:"title"`
	Outline         string `json:"outline"`
	TargetWordCount int    `json:"targetWordCount"`
}

type ChapterRequest struct {
	BookTitle       string
	Number          int
	Title           string
	Outline         string
	TargetWordCount int
	Genre           string
	Language        string
	PreviousSummary string
}

type KeywordRequest struct {
	Title   string
	Genre   string
	Excerpt string
}

const (
	outlineSystemPrompt  = "You are an expert book planner and outline creator. Always respond with valid JSON."
	chapterSystemPrompt  = "You are a professional author who writes engaging, well-structured book chapters."
	keywordsSystemPrompt = "You are an SEO expert specializing in book marketing. Always respond with valid JSON."
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIWriter implements TextGenerator on the chat completions API.
type OpenAIWriter struct {
	client *openai.Client
	model  string
}

func NewOpenAIWriter(cfg OpenAIConfig) *OpenAIWriter {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIWriter{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}
}

func (w *OpenAIWriter) GenerateOutline(ctx context.Context, req OutlineRequest) ([]OutlineChapter, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed outline for a %s book:\n\n", orDefault(req.Genre, "non-fiction"))
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	if req.Subtitle != "" {
		fmt.Fprintf(&b, "Subtitle: %s\n", req.Subtitle)
	}
	fmt.Fprintf(&b, "\nBook concept: %s\n\n", req.Concept)
	fmt.Fprintf(&b, "Requirements:\n- Total target word count: %d\n- Number of chapters: %d\n", req.TargetWordCount, req.Chapters)
	b.WriteString("- Each chapter should have a clear purpose and outline\n- Logical progression from chapter to chapter\n")
	if req.Language != "" && req.Language != "en" {
		fmt.Fprintf(&b, "- Write titles and outlines in language: %s\n", req.Language)
	}
	b.WriteString(`
Provide the outline in this JSON format:
{"chapters": [{"number": 1, "title": "Chapter Title", "outline": "Detailed outline of what this chapter covers", "targetWordCount": 5000}]}`)

	content, err := w.complete(ctx, "outline", outlineSystemPrompt, b.String(), 0.8, 3000, true)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Chapters []OutlineChapter `json:"chapters"`
	}
	if err := decodeJSON(content, &parsed); err != nil {
		return nil, fmt.Errorf("parse outline: %w", err)
	}
	return parsed.Chapters, nil
}

func (w *OpenAIWriter) GenerateChapter(ctx context.Context, req ChapterRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional author writing a %s book titled %q.\n\n", orDefault(req.Genre, "non-fiction"), req.BookTitle)
	fmt.Fprintf(&b, "Write Chapter %d: %q\n\nOutline: %s\n\n", req.Number, req.Title, req.Outline)
	if req.PreviousSummary != "" {
		fmt.Fprintf(&b, "Previous chapter summary: %s\n\n", req.PreviousSummary)
	}
	fmt.Fprintf(&b, "Requirements:\n- Target word count: %d words\n", req.TargetWordCount)
	b.WriteString("- Professional, engaging writing style\n- Clear structure with subheadings\n")
	b.WriteString("- Smooth transitions between sections\n- Natural conclusion that leads to the next chapter\n")
	if req.Language != "" && req.Language != "en" {
		fmt.Fprintf(&b, "- Write in language: %s\n", req.Language)
	}
	b.WriteString("\nWrite the complete chapter content now:")

	maxTokens := req.TargetWordCount * 2
	if maxTokens <= 0 || maxTokens > 4000 {
		maxTokens = 4000
	}
	return w.complete(ctx, "chapter", chapterSystemPrompt, b.String(), 0.7, maxTokens, false)
}

func (w *OpenAIWriter) GenerateKeywords(ctx context.Context, req KeywordRequest) ([]string, error) {
	prompt := fmt.Sprintf(`Analyze this book and generate 10-15 SEO-optimized keywords for Amazon and book stores:

Title: %s
Genre: %s
Content excerpt: %s

Generate keywords that are relevant to the content, commonly searched by readers and mix broad and specific terms.

Return JSON: {"keywords": ["keyword1", "keyword2"]}`, req.Title, orDefault(req.Genre, "General"), req.Excerpt)

	content, err := w.complete(ctx, "keywords", keywordsSystemPrompt, prompt, 0.7, 500, true)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Keywords []string `json:"keywords"`
	}
	if err := decodeJSON(content, &parsed); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	return parsed.Keywords, nil
}

func (w *OpenAIWriter) complete(ctx context.Context, op, system, user string, temperature float32, maxTokens int, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := w.client.CreateChatCompletion(ctx, req)
	metrics.RecordExternalCall("openai", op, err)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no choices returned", op)
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeJSON unmarshals model output, tolerating markdown code fences and
// prose around the JSON object.
func decodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return directErr
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), target)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
