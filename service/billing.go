package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BookEmpire-server/metrics"
	"BookEmpire-server/models"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// PaymentProvider is the subset of the Stripe API the billing flow uses.
type PaymentProvider interface {
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
}

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	PlanName   string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, nil)}
}

func (s *StripeProvider) CreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)
	c, err := s.api.Customers.New(params)
	metrics.RecordExternalCall("stripe", "create_customer", err)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"userId": p.UserID, "planName": p.PlanName},
		},
	}
	params.Context = ctx
	params.AddMetadata("userId", p.UserID)
	params.AddMetadata("planName", p.PlanName)

	sess, err := s.api.CheckoutSessions.New(params)
	metrics.RecordExternalCall("stripe", "create_checkout", err)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

func (s *StripeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.api.Subscriptions.Get(id, params)
	metrics.RecordExternalCall("stripe", "get_subscription", err)
	return sub, err
}

func (s *StripeProvider) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := s.api.Customers.Get(id, params)
	metrics.RecordExternalCall("stripe", "get_customer", err)
	return c, err
}

type BillingConfig struct {
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Billing mirrors payment-provider state into users, subscriptions and
// payments.
type Billing struct {
	db       *gorm.DB
	provider PaymentProvider
	cfg      BillingConfig
	log      zerolog.Logger
}

func NewBilling(db *gorm.DB, provider PaymentProvider, cfg BillingConfig, log zerolog.Logger) *Billing {
	return &Billing{
		db:       db,
		provider: provider,
		cfg:      cfg,
		log:      log.With().Str("component", "billing").Logger(),
	}
}

// Checkout creates a subscription checkout session, creating the provider
// customer on first use.
func (b *Billing) Checkout(ctx context.Context, user *models.User, priceID, planName string) (*CheckoutSession, error) {
	customerID := user.StripeCustomerID
	if customerID == "" {
		id, err := b.provider.CreateCustomer(ctx, user.Email, user.FullName, user.ID)
		if err != nil {
			return nil, err
		}
		if err := models.SetStripeCustomerID(b.db, user.ID, id); err != nil {
			return nil, fmt.Errorf("store customer id: %w", err)
		}
		user.StripeCustomerID = id
		customerID = id
	}

	return b.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		UserID:     user.ID,
		PlanName:   planName,
		SuccessURL: b.cfg.SuccessURL,
		CancelURL:  b.cfg.CancelURL,
	})
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (b *Billing) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, b.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// HandleEvent applies one verified event. Events for unknown users are
// logged and acknowledged.
func (b *Billing) HandleEvent(ctx context.Context, event stripe.Event) error {
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type)).Inc()
	log := b.log.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	if event.Data == nil {
		log.Warn().Msg("event without data")
		return nil
	}

	var err error
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &sess); err == nil {
			err = b.checkoutCompleted(ctx, log, &sess)
		}
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err = json.Unmarshal(event.Data.Raw, &sub); err == nil {
			err = b.subscriptionChanged(ctx, log, &sub)
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err = json.Unmarshal(event.Data.Raw, &sub); err == nil {
			err = b.subscriptionDeleted(ctx, log, &sub)
		}
	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err = json.Unmarshal(event.Data.Raw, &inv); err == nil {
			err = b.invoicePaid(ctx, log, &inv)
		}
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err = json.Unmarshal(event.Data.Raw, &inv); err == nil {
			err = b.invoiceFailed(ctx, log, &inv)
		}
	default:
		log.Info().Msg("unhandled event type")
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", event.Type, err)
	}
	return nil
}

func (b *Billing) checkoutCompleted(ctx context.Context, log zerolog.Logger, sess *stripe.CheckoutSession) error {
	userID := sess.Metadata["userId"]
	if userID == "" {
		log.Warn().Str("session_id", sess.ID).Msg("checkout session without userId metadata")
		return nil
	}
	if _, err := models.GetUserByID(b.db, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warn().Str("user_id", userID).Msg("checkout for unknown user")
			return nil
		}
		return err
	}
	planName := sess.Metadata["planName"]
	if planName == "" {
		planName = models.TierFree
	}

	var sub *stripe.Subscription
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		var err error
		sub, err = b.provider.GetSubscription(ctx, sess.Subscription.ID)
		if err != nil {
			return fmt.Errorf("retrieve subscription: %w", err)
		}
	}

	return b.db.Transaction(func(tx *gorm.DB) error {
		if sess.Customer != nil && sess.Customer.ID != "" {
			if err := models.SetStripeCustomerID(tx, userID, sess.Customer.ID); err != nil {
				return err
			}
		}
		if sub != nil {
			if err := upsertSubscription(tx, userID, sub); err != nil {
				return err
			}
		}
		if err := models.SetUserPlan(tx, userID, planName); err != nil {
			return err
		}
		paymentID := sess.ID
		if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
			paymentID = sess.PaymentIntent.ID
		}
		log.Info().Str("user_id", userID).Str("plan", planName).Msg("checkout completed")
		return models.CreatePayment(tx, &models.Payment{
			UserID:          userID,
			AmountCents:     sess.AmountTotal,
			Currency:        string(sess.Currency),
			Status:          models.PaymentStatusSucceeded,
			StripePaymentID: paymentID,
		})
	})
}

func (b *Billing) subscriptionChanged(ctx context.Context, log zerolog.Logger, sub *stripe.Subscription) error {
	userID, err := b.resolveUser(ctx, sub.Metadata, sub.Customer)
	if err != nil || userID == "" {
		if err == nil {
			log.Warn().Str("subscription_id", sub.ID).Msg("subscription for unknown user")
		}
		return err
	}
	return upsertSubscription(b.db, userID, sub)
}

func (b *Billing) subscriptionDeleted(ctx context.Context, log zerolog.Logger, sub *stripe.Subscription) error {
	userID, err := b.resolveUser(ctx, sub.Metadata, sub.Customer)
	if err != nil || userID == "" {
		if err == nil {
			log.Warn().Str("subscription_id", sub.ID).Msg("canceled subscription for unknown user")
		}
		return err
	}
	canceledAt := time.Now()
	if sub.CanceledAt > 0 {
		canceledAt = time.Unix(sub.CanceledAt, 0)
	}
	return b.db.Transaction(func(tx *gorm.DB) error {
		if err := models.CancelSubscription(tx, userID, canceledAt); err != nil {
			return err
		}
		log.Info().Str("user_id", userID).Msg("subscription canceled, reverting to free tier")
		return models.SetUserPlan(tx, userID, models.TierFree)
	})
}

func (b *Billing) invoicePaid(ctx context.Context, log zerolog.Logger, inv *stripe.Invoice) error {
	userID, err := b.resolveUser(ctx, nil, inv.Customer)
	if err != nil || userID == "" {
		if err == nil {
			log.Warn().Str("invoice_id", inv.ID).Msg("invoice for unknown customer")
		}
		return err
	}
	return b.db.Transaction(func(tx *gorm.DB) error {
		if err := models.CreatePayment(tx, invoicePayment(userID, inv, inv.AmountPaid, models.PaymentStatusSucceeded)); err != nil {
			return err
		}
		return models.ResetUserQuota(tx, userID)
	})
}

func (b *Billing) invoiceFailed(ctx context.Context, log zerolog.Logger, inv *stripe.Invoice) error {
	userID, err := b.resolveUser(ctx, nil, inv.Customer)
	if err != nil || userID == "" {
		if err == nil {
			log.Warn().Str("invoice_id", inv.ID).Msg("failed invoice for unknown customer")
		}
		return err
	}
	log.Warn().Str("user_id", userID).Int64("amount_due", inv.AmountDue).Msg("invoice payment failed")
	return models.CreatePayment(b.db, invoicePayment(userID, inv, inv.AmountDue, models.PaymentStatusFailed))
}

// resolveUser finds the local user behind a provider object: metadata first,
// then the stored customer id, then the customer's own metadata.
func (b *Billing) resolveUser(ctx context.Context, metadata map[string]string, customer *stripe.Customer) (string, error) {
	if id := metadata["userId"]; id != "" {
		return id, nil
	}
	if customer == nil || customer.ID == "" {
		return "", nil
	}
	u, err := models.GetUserByStripeCustomer(b.db, customer.ID)
	if err == nil {
		return u.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}
	c, err := b.provider.GetCustomer(ctx, customer.ID)
	if err != nil {
		return "", fmt.Errorf("retrieve customer: %w", err)
	}
	return c.Metadata["userId"], nil
}

func upsertSubscription(db *gorm.DB, userID string, sub *stripe.Subscription) error {
	s := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		s.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0)
		s.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0)
		s.CurrentPeriodEnd = &t
	}
	return models.UpsertSubscription(db, s,
		"stripe_subscription_id", "status", "price_id",
		"current_period_start", "current_period_end", "cancel_at_period_end")
}

func invoicePayment(userID string, inv *stripe.Invoice, amount int64, status string) *models.Payment {
	paymentID := inv.ID
	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
		paymentID = inv.PaymentIntent.ID
	}
	return &models.Payment{
		UserID:          userID,
		AmountCents:     amount,
		Currency:        string(inv.Currency),
		Status:          status,
		StripePaymentID: paymentID,
	}
}
