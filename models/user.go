package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TierFree         = "free"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// PlanLimit returns the monthly book quota of a subscription tier. Unknown
// tiers get the free quota.
func PlanLimit(tier string) int {
	switch tier {
	case TierProfessional:
		return 50
	case TierEnterprise:
		return 999999
	default:
		return 3
	}
}

// User mirrors an identity-provider account. BooksGeneratedCount and
// BooksRemaining always add up to MonthlyBookLimit.
type User struct {
	ID                  string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ExternalAuthID      string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"-"`
	Email               string    `gorm:"type:varchar(255)" json:"email"`
	FullName            string    `gorm:"type:varchar(255)" json:"fullName"`
	SubscriptionTier    string    `gorm:"type:varchar(32);not null" json:"subscriptionTier"`
	MonthlyBookLimit    int       `gorm:"not null" json:"monthlyBookLimit"`
	BooksGeneratedCount int       `gorm:"not null" json:"booksGeneratedCount"`
	BooksRemaining      int       `gorm:"not null" json:"booksRemaining"`
	StripeCustomerID    string    `gorm:"type:varchar(191);index" json:"-"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "user"
}

// FindOrCreateUser returns the user for an identity-provider subject,
// creating a free-tier account on first sight.
func FindOrCreateUser(db *gorm.DB, externalID, email, fullName string) (*User, error) {
	var u User
	limit := PlanLimit(TierFree)
	err := db.Where(User{ExternalAuthID: externalID}).
		Attrs(User{
			ID:               uuid.NewString(),
			Email:            email,
			FullName:         fullName,
			SubscriptionTier: TierFree,
			MonthlyBookLimit: limit,
			BooksRemaining:   limit,
		}).
		FirstOrCreate(&u).Error
	if err != nil {
		// A concurrent first request may have inserted the row already.
		var existing User
		if db.Where("external_auth_id = ?", externalID).First(&existing).Error == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &u, nil
}

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var u User
	if err := db.First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ReserveBookQuota consumes one unit of the user's monthly quota. It is a
// single conditional UPDATE, so concurrent requests cannot overdraw.
func ReserveBookQuota(db *gorm.DB, userID string) error {
	res := db.Model(&User{}).
		Where("id = ? AND books_remaining > 0 AND books_generated_count < monthly_book_limit", userID).
		Updates(map[string]interface{}{
			"books_generated_count": gorm.Expr("books_generated_count + 1"),
			"books_remaining":       gorm.Expr("books_remaining - 1"),
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// RefundBookQuota gives back a unit taken by ReserveBookQuota for a request
// that could not be accepted.
func RefundBookQuota(db *gorm.DB, userID string) error {
	return db.Model(&User{}).
		Where("id = ? AND books_generated_count > 0", userID).
		Updates(map[string]interface{}{
			"books_generated_count": gorm.Expr("books_generated_count - 1"),
			"books_remaining":       gorm.Expr("books_remaining + 1"),
			"updated_at":            time.Now(),
		}).Error
}

// SetUserPlan moves the user to tier and starts a fresh quota period.
func SetUserPlan(db *gorm.DB, userID, tier string) error {
	limit := PlanLimit(tier)
	res := db.Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"subscription_tier":     tier,
		"monthly_book_limit":    limit,
		"books_remaining":       limit,
		"books_generated_count": 0,
		"updated_at":            time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetUserQuota restarts the quota period on the user's current tier.
func ResetUserQuota(db *gorm.DB, userID string) error {
	u, err := GetUserByID(db, userID)
	if err != nil {
		return err
	}
	return SetUserPlan(db, u.ID, u.SubscriptionTier)
}

// ResetFreeTierQuotas restarts the period for every free-tier user.
func ResetFreeTierQuotas(db *gorm.DB) (int64, error) {
	limit := PlanLimit(TierFree)
	res := db.Model(&User{}).Where("subscription_tier = ?", TierFree).Updates(map[string]interface{}{
		"monthly_book_limit":    limit,
		"books_remaining":       limit,
		"books_generated_count": 0,
		"updated_at":            time.Now(),
	})
	return res.RowsAffected, res.Error
}

func SetStripeCustomerID(db *gorm.DB, userID, customerID string) error {
	return db.Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"stripe_customer_id": customerID,
		"updated_at":         time.Now(),
	}).Error
}

func GetUserByStripeCustomer(db *gorm.DB, customerID string) (*User, error) {
	var u User
	if err := db.First(&u, "stripe_customer_id = ?", customerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
