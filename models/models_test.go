package models

import (
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func newUser(t *testing.T, db *gorm.DB) *User {
	t.Helper()
	u, err := FindOrCreateUser(db, "auth|"+uuid.NewString(), "ada@example.com", "Ada")
	require.NoError(t, err)
	return u
}

func newBook(t *testing.T, db *gorm.DB, userID, status string) *BookProject {
	t.Helper()
	b := &BookProject{
		ID:              uuid.NewString(),
		UserID:          userID,
		Title:           "Book " + uuid.NewString()[:8],
		InputType:       InputTopic,
		TargetWordCount: 10000,
		Status:          status,
	}
	require.NoError(t, CreateBookProject(db, b))
	return b
}

func assertQuotaInvariant(t *testing.T, u *User) {
	t.Helper()
	assert.Equal(t, u.MonthlyBookLimit, u.BooksGeneratedCount+u.BooksRemaining)
}

func TestFindOrCreateUserIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	a, err := FindOrCreateUser(db, "auth|1", "a@example.com", "A")
	require.NoError(t, err)
	b, err := FindOrCreateUser(db, "auth|1", "changed@example.com", "B")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "a@example.com", b.Email)
	assert.Equal(t, TierFree, b.SubscriptionTier)
	assert.Equal(t, 3, b.BooksRemaining)
	assertQuotaInvariant(t, b)
}

func TestReserveBookQuotaUntilExhausted(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)

	for i := 0; i < 3; i++ {
		require.NoError(t, ReserveBookQuota(db, u.ID))
	}
	assert.ErrorIs(t, ReserveBookQuota(db, u.ID), ErrQuotaExceeded)

	got, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.BooksGeneratedCount)
	assert.Equal(t, 0, got.BooksRemaining)
	assertQuotaInvariant(t, got)

	require.NoError(t, RefundBookQuota(db, u.ID))
	got, err = GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.BooksGeneratedCount)
	assertQuotaInvariant(t, got)
}

func TestReserveBookQuotaConcurrent(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ReserveBookQuota(db, u.ID) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	got, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assertQuotaInvariant(t, got)
}

func TestRefundNeverGoesBelowZero(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	require.NoError(t, RefundBookQuota(db, u.ID))
	got, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.BooksGeneratedCount)
	assert.Equal(t, 3, got.BooksRemaining)
}

func TestSetUserPlanAndResets(t *testing.T) {
	db := newTestDB(t)
	paid := newUser(t, db)
	free := newUser(t, db)
	require.NoError(t, ReserveBookQuota(db, paid.ID))
	require.NoError(t, ReserveBookQuota(db, free.ID))

	require.NoError(t, SetUserPlan(db, paid.ID, TierProfessional))
	got, err := GetUserByID(db, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, TierProfessional, got.SubscriptionTier)
	assert.Equal(t, 50, got.BooksRemaining)
	assert.Equal(t, 0, got.BooksGeneratedCount)
	assertQuotaInvariant(t, got)

	require.NoError(t, ReserveBookQuota(db, paid.ID))
	n, err := ResetFreeTierQuotas(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = GetUserByID(db, free.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.BooksRemaining)
	got, err = GetUserByID(db, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, 49, got.BooksRemaining, "paid tiers reset on invoice, not on the cron")

	require.NoError(t, ResetUserQuota(db, paid.ID))
	got, err = GetUserByID(db, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.BooksRemaining)

	assert.ErrorIs(t, SetUserPlan(db, "missing", TierEnterprise), ErrNotFound)
}

func TestPlanLimit(t *testing.T) {
	assert.Equal(t, 3, PlanLimit(TierFree))
	assert.Equal(t, 50, PlanLimit(TierProfessional))
	assert.Equal(t, 999999, PlanLimit(TierEnterprise))
	assert.Equal(t, 3, PlanLimit("platinum"))
}

func TestStripeCustomerLookup(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	require.NoError(t, SetStripeCustomerID(db, u.ID, "cus_123"))
	got, err := GetUserByStripeCustomer(db, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	_, err = GetUserByStripeCustomer(db, "cus_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookProgressIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	b := newBook(t, db, u.ID, BookStatusGenerating)

	require.NoError(t, UpdateBookProgress(db, b.ID, 45, "Generating chapter 2/4"))
	require.NoError(t, UpdateBookProgress(db, b.ID, 15, "Outline"))

	got, err := GetBookProject(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.GenerationProgress)
	assert.Equal(t, "Generating chapter 2/4", got.Metadata["current_step"])

	require.NoError(t, MarkBookFailed(db, b.ID, "Generating covers", "boom"))
	require.NoError(t, UpdateBookProgress(db, b.ID, 90, "ignored"))
	got, err = GetBookProject(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BookStatusFailed, got.Status)
	assert.Equal(t, 45, got.GenerationProgress)
	assert.Equal(t, "boom", got.ErrorMessage())
}

func TestBeginBookAttemptAndComplete(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	b := newBook(t, db, u.ID, BookStatusFailed)

	require.NoError(t, BeginBookAttempt(db, b.ID))
	got, err := GetBookProject(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BookStatusGenerating, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.GenerationStartedAt)
	started := *got.GenerationStartedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, BeginBookAttempt(db, b.ID))
	got, err = GetBookProject(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, started.Equal(*got.GenerationStartedAt), "first start time is kept")

	require.NoError(t, SetBookStage(db, b.ID, StageDrafted, map[string]interface{}{"actual_word_count": 1200}))
	require.NoError(t, CompleteBook(db, b.ID, []string{"a", "b"}, "https://files.test/c.png"))
	got, err = GetBookProject(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, BookStatusCompleted, got.Status)
	assert.Equal(t, StageCompleted, got.GenerationStage)
	assert.Equal(t, 100, got.GenerationProgress)
	assert.Equal(t, 1200, got.ActualWordCount)
	assert.Equal(t, []string{"a", "b"}, []string(got.SeoKeywords))
	assert.NotNil(t, got.GenerationCompletedAt)

	assert.ErrorIs(t, BeginBookAttempt(db, "missing"), ErrNotFound)
}

func TestStageReached(t *testing.T) {
	assert.True(t, StageReached(StageDrafted, StageOutlined))
	assert.True(t, StageReached(StageDrafted, StageDrafted))
	assert.False(t, StageReached(StageOutlined, StageCovered))
	assert.False(t, StageReached(StageNone, StageOutlined))
	assert.True(t, StageReached(StageCompleted, StageOptimized))
}

func TestListBookProjects(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	other := newUser(t, db)
	for i := 0; i < 4; i++ {
		newBook(t, db, u.ID, BookStatusGenerating)
		time.Sleep(2 * time.Millisecond)
	}
	last := newBook(t, db, u.ID, BookStatusCompleted)
	newBook(t, db, other.ID, BookStatusCompleted)

	books, total, err := ListBookProjects(db, u.ID, "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, books, 2)
	assert.Equal(t, last.ID, books[0].ID, "newest first")

	books, total, err = ListBookProjects(db, u.ID, BookStatusCompleted, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, books, 1)

	books, _, err = ListBookProjects(db, u.ID, "", 10, 4)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestGetUserBookProjectOwnership(t *testing.T) {
	db := newTestDB(t)
	owner := newUser(t, db)
	stranger := newUser(t, db)
	b := newBook(t, db, owner.ID, BookStatusGenerating)

	_, err := GetUserBookProject(db, owner.ID, b.ID)
	require.NoError(t, err)
	_, err = GetUserBookProject(db, stranger.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GetBookDetail(db, stranger.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChapters(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	b := newBook(t, db, u.ID, BookStatusGenerating)

	require.NoError(t, BatchCreateChapters(db, []BookChapter{
		{BookProjectID: b.ID, ChapterNumber: 2, Title: "Two", Status: ChapterStatusPending},
		{BookProjectID: b.ID, ChapterNumber: 1, Title: "One", Status: ChapterStatusPending},
	}))
	err := BatchCreateChapters(db, []BookChapter{{BookProjectID: b.ID, ChapterNumber: 1, Title: "Dup"}})
	assert.Error(t, err, "chapter numbers are unique per project")

	chapters, err := GetChapters(db, b.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].ChapterNumber)

	require.NoError(t, chapters[0].Complete(db, "one two three", 3))
	require.NoError(t, chapters[1].Complete(db, "four five", 2))
	total, err := SumChapterWords(db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	detail, err := GetBookDetail(db, u.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, detail.Chapters, 2)
	assert.Equal(t, ChapterStatusCompleted, detail.Chapters[1].Status)
	assert.Empty(t, detail.Chapters[1].Content, "detail omits chapter bodies")
}

func TestCovers(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	b := newBook(t, db, u.ID, BookStatusGenerating)

	sel, err := SelectedCover(db, b.ID)
	require.NoError(t, err)
	assert.Nil(t, sel)

	require.NoError(t, CreateCover(db, &BookCover{ID: uuid.NewString(), BookProjectID: b.ID, Variant: 2, ImageURL: "b"}))
	require.NoError(t, CreateCover(db, &BookCover{ID: uuid.NewString(), BookProjectID: b.ID, Variant: 1, ImageURL: "a", IsSelected: true}))

	sel, err = SelectedCover(db, b.ID)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, "a", sel.ImageURL)

	require.NoError(t, DeleteCovers(db, b.ID))
	covers, err := GetCovers(db, b.ID)
	require.NoError(t, err)
	assert.Empty(t, covers)
}

func TestSubscriptionUpsertAndCancel(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)

	require.NoError(t, UpsertSubscription(db, &Subscription{UserID: u.ID, StripeSubscriptionID: "sub_1", Status: "active", PriceID: "price_pro"},
		"stripe_subscription_id", "status", "price_id"))
	require.NoError(t, UpsertSubscription(db, &Subscription{UserID: u.ID, StripeSubscriptionID: "sub_2", Status: "past_due", PriceID: "price_pro"},
		"stripe_subscription_id", "status", "price_id"))

	var count int64
	require.NoError(t, db.Model(&Subscription{}).Where("user_id = ?", u.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	s, err := GetSubscription(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_2", s.StripeSubscriptionID)
	assert.Equal(t, "past_due", s.Status)

	require.NoError(t, CancelSubscription(db, u.ID, time.Now()))
	s, err = GetSubscription(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusCanceled, s.Status)
	assert.NotNil(t, s.CanceledAt)
}

func TestPaymentsAndActivity(t *testing.T) {
	db := newTestDB(t)
	u := newUser(t, db)
	require.NoError(t, CreatePayment(db, &Payment{UserID: u.ID, AmountCents: 2900, Currency: "usd", Status: PaymentStatusSucceeded}))
	payments, err := ListPayments(db, u.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(2900), payments[0].AmountCents)

	require.NoError(t, LogActivity(db, u.ID, "", ActivityExport, "exported", map[string]interface{}{"format": "pdf"}))
	entries, err := ListActivity(db, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pdf", entries[0].Metadata["format"])
}
