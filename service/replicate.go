package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"BookEmpire-server/metrics"

	"github.com/replicate/replicate-go"
	"github.com/rs/zerolog"
)

// CoverGenerator renders one cover image and returns its temporary URL.
type CoverGenerator interface {
	GenerateCover(ctx context.Context, req CoverRequest) (string, error)
}

type CoverRequest struct {
	Title      string
	AuthorName string
	Genre      string
	Style      string
}

type ReplicateConfig struct {
	APIToken     string
	BaseURL      string
	Version      string
	PollInterval time.Duration
	Timeout      time.Duration
}

// ReplicateClient runs image predictions: it creates a prediction and waits
// for the model to report a terminal status.
type ReplicateClient struct {
	cfg    ReplicateConfig
	client *replicate.Client
	log    zerolog.Logger
}

func NewReplicateClient(cfg ReplicateConfig, log zerolog.Logger) (*ReplicateClient, error) {
	opts := []replicate.ClientOption{replicate.WithToken(cfg.APIToken)}
	if cfg.BaseURL != "" {
		opts = append(opts, replicate.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	client, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("replicate init: %w", err)
	}
	return &ReplicateClient{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "replicate").Logger(),
	}, nil
}

func CoverPrompt(req CoverRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Professional book cover design for %q by %s.\n", req.Title, orDefault(req.AuthorName, "Anonymous"))
	if req.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s.\n", req.Genre)
	}
	fmt.Fprintf(&b, "%s.\n", orDefault(req.Style, "professional book cover"))
	b.WriteString("High quality, bestseller aesthetic, modern typography, eye-catching design, professional publishing standard.")
	return b.String()
}

func coverInput(prompt string) replicate.PredictionInput {
	return replicate.PredictionInput{
		"prompt":              prompt,
		"width":               1024,
		"height":              1536,
		"num_outputs":         1,
		"scheduler":           "K_EULER",
		"num_inference_steps": 50,
		"guidance_scale":      7.5,
		"refine":              "expert_ensemble_refiner",
		"high_noise_frac":     0.8,
	}
}

func (c *ReplicateClient) GenerateCover(ctx context.Context, req CoverRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	pred, err := c.client.CreatePrediction(ctx, c.cfg.Version, coverInput(CoverPrompt(req)), nil, false)
	metrics.RecordExternalCall("replicate", "create", err)
	if err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}
	c.log.Debug().Str("prediction_id", pred.ID).Str("style", req.Style).Msg("prediction created")

	err = c.client.Wait(ctx, pred, replicate.WithPollingInterval(c.cfg.PollInterval))
	metrics.RecordExternalCall("replicate", "poll", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("prediction %s: %w", pred.ID, ctxErr)
		}
		return "", fmt.Errorf("prediction %s: %w", pred.ID, err)
	}

	switch pred.Status {
	case replicate.Succeeded:
		return firstOutput(pred.Output)
	case replicate.Failed, replicate.Canceled:
		return "", fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error)
	}
	return "", fmt.Errorf("prediction %s ended in status %q", pred.ID, pred.Status)
}

// firstOutput accepts both list and single-string outputs.
func firstOutput(out interface{}) (string, error) {
	switch v := out.(type) {
	case []interface{}:
		if len(v) == 0 {
			return "", fmt.Errorf("prediction returned no output")
		}
		if s, ok := v[0].(string); ok && s != "" {
			return s, nil
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
		return "", fmt.Errorf("prediction returned no output")
	case string:
		if v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("unexpected prediction output: %v", out)
}
