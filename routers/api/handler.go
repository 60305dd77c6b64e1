// Package api holds the HTTP handlers. Every dependency is injected through
// Handler so tests can swap the queue, storage and payment provider.
package api

import (
	"context"
	"time"

	"BookEmpire-server/export"
	"BookEmpire-server/models"
	"BookEmpire-server/service"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"
)

// BillingService is the part of service.Billing the handlers call.
type BillingService interface {
	Checkout(ctx context.Context, user *models.User, priceID, planName string) (*service.CheckoutSession, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
	HandleEvent(ctx context.Context, event stripe.Event) error
}

type Deps struct {
	DB       *gorm.DB
	Queue    service.Enqueuer
	Billing  BillingService
	Store    service.AssetStore
	Renderer export.Renderer
	Log      zerolog.Logger
	// WSPollInterval is how often the progress socket re-reads the project.
	WSPollInterval time.Duration
}

type Handler struct {
	db       *gorm.DB
	queue    service.Enqueuer
	billing  BillingService
	store    service.AssetStore
	renderer export.Renderer
	log      zerolog.Logger
	wsPoll   time.Duration
}

func NewHandler(d Deps) *Handler {
	poll := d.WSPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Handler{
		db:       d.DB,
		queue:    d.Queue,
		billing:  d.Billing,
		store:    d.Store,
		renderer: d.Renderer,
		log:      d.Log.With().Str("component", "api").Logger(),
		wsPoll:   poll,
	}
}
