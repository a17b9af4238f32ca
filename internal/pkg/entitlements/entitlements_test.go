package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studymate/checkout/app/models"
)

func TestNextPremiumUntil_StacksRemainingTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := now.AddDate(0, 0, 10)

	got := NextPremiumUntil(&current, now, 30)
	assert.Equal(t, current.AddDate(0, 0, 30), got)
}

func TestNextPremiumUntil_ExpiredRestartsFromNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -5)

	got := NextPremiumUntil(&past, now, 30)
	assert.Equal(t, now.AddDate(0, 0, 30), got)
}

func TestNextPremiumUntil_NilStartsFromNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := NextPremiumUntil(nil, now, 90)
	assert.Equal(t, now.AddDate(0, 0, 90), got)
}

func TestNextPremiumUntil_NeverShortens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := now.AddDate(0, 0, 100)

	got := NextPremiumUntil(&current, now, 1)
	assert.True(t, got.After(current), "premium_until must be monotonically non-decreasing")
}

// A trial granted after a purchase must never shorten the paid window.
func TestApplyTrialAfterPurchaseNeverShortens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	paidUntil := now.AddDate(0, 0, 365)
	e := &models.Entitlement{UserID: 1, PlanCode: "premium_365", PremiumUntil: &paidUntil}

	applyTrial(e, now)

	assert.True(t, e.TrialUsed)
	assert.Equal(t, "premium_365", e.PlanCode)
	assert.Equal(t, paidUntil.AddDate(0, 0, 1), *e.PremiumUntil)
	assert.True(t, e.PremiumUntil.After(paidUntil), "trial must extend, not truncate")
}

func TestApplyTrialOnFreeRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &models.Entitlement{UserID: 1, PlanCode: "free"}

	applyTrial(e, now)

	assert.True(t, e.TrialUsed)
	assert.Equal(t, "trial", e.PlanCode)
	assert.Equal(t, now.AddDate(0, 0, 1), *e.PremiumUntil)
	assert.Equal(t, now, *e.TrialStartedAt)
}

func TestApplyTrialOnExpiredPremium(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -30)
	e := &models.Entitlement{UserID: 1, PlanCode: "premium_30", PremiumUntil: &past}

	applyTrial(e, now)

	assert.Equal(t, "trial", e.PlanCode)
	assert.Equal(t, now.AddDate(0, 0, 1), *e.PremiumUntil)
}

func TestIsActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.False(t, IsActive(nil, now))
	assert.False(t, IsActive(&models.Entitlement{}, now))
	assert.False(t, IsActive(&models.Entitlement{PremiumUntil: &past}, now))
	assert.True(t, IsActive(&models.Entitlement{PremiumUntil: &future}, now))
}

func TestSnapshotOf(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)

	snap := SnapshotOf(&models.Entitlement{PlanCode: "premium_30", PremiumUntil: &future}, now)
	assert.Equal(t, "premium_30", snap.PlanCode)
	assert.True(t, snap.PremiumActive)
	assert.Equal(t, &future, snap.PremiumUntil)

	free := SnapshotOf(&models.Entitlement{PlanCode: "free"}, now)
	assert.False(t, free.PremiumActive)
	assert.Nil(t, free.PremiumUntil)
}
