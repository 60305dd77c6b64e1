package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"

	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors the payment provider's subscription; one per user.
type Subscription struct {
	ID                   string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID               string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"userId"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);index" json:"stripeSubscriptionId"`
	Status               string     `gorm:"type:varchar(32)" json:"status"`
	PriceID              string     `gorm:"type:varchar(191)" json:"priceId"`
	CurrentPeriodStart   *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancelAtPeriodEnd"`
	CanceledAt           *time.Time `json:"canceledAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

func (Subscription) TableName() string {
	return "subscription"
}

type Payment struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID          string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	AmountCents     int64     `json:"amountCents"`
	Currency        string    `gorm:"type:varchar(8)" json:"currency"`
	Status          string    `gorm:"type:varchar(32)" json:"status"`
	StripePaymentID string    `gorm:"type:varchar(191)" json:"stripePaymentId"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (Payment) TableName() string {
	return "payment"
}

// UpsertSubscription inserts s, or updates the listed columns of the
// existing row for the same user.
func UpsertSubscription(db *gorm.DB, s *Subscription, updateColumns ...string) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	cols := append([]string{"updated_at"}, updateColumns...)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(s).Error
}

func GetSubscription(db *gorm.DB, userID string) (*Subscription, error) {
	var s Subscription
	if err := db.First(&s, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func CancelSubscription(db *gorm.DB, userID string, at time.Time) error {
	return db.Model(&Subscription{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
		"status":      SubscriptionStatusCanceled,
		"canceled_at": at,
		"updated_at":  time.Now(),
	}).Error
}

func CreatePayment(db *gorm.DB, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return db.Create(p).Error
}

func ListPayments(db *gorm.DB, userID string) ([]Payment, error) {
	var payments []Payment
	err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}
