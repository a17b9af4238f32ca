package entitlements

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/cache"
	"github.com/studymate/checkout/internal/pkg/plans"
)

// ErrInvalidPlan is returned when a plan code does not resolve to a positive
// premium duration.
var ErrInvalidPlan = errors.New("invalid plan")

const (
	snapshotKeyPrefix = "entitlement:"
	snapshotTTL       = time.Minute
)

// Snapshot is the read surface other parts of the application use to gate
// premium features. It is emitted after every activation and on demand.
type Snapshot struct {
	PlanCode      string     `json:"plan_code"`
	PremiumActive bool       `json:"premium_active"`
	PremiumUntil  *time.Time `json:"premium_until,omitempty"`
}

// IsActive reports whether an entitlement row grants premium right now.
func IsActive(e *models.Entitlement, now time.Time) bool {
	return e != nil && e.PremiumUntil != nil && e.PremiumUntil.After(now)
}

// SnapshotOf converts a ledger row into its snapshot form.
func SnapshotOf(e *models.Entitlement, now time.Time) Snapshot {
	return Snapshot{
		PlanCode:      e.PlanCode,
		PremiumActive: IsActive(e, now),
		PremiumUntil:  e.PremiumUntil,
	}
}

// NextPremiumUntil implements the additive extension rule: remaining premium
// time stacks, an expired window restarts from now, the result never moves
// backwards.
func NextPremiumUntil(current *time.Time, now time.Time, durationDays int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, durationDays)
}

// ApplyActivation extends a user's premium window by the plan's duration.
// It accepts any *gorm.DB so the checkout finalize path can run it inside its
// own transaction and roll the whole operation back on failure.
func ApplyActivation(db *gorm.DB, userID uint, planCode string, now time.Time) (*models.Entitlement, error) {
	plan, err := plans.Resolve(planCode)
	if err != nil || plan.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, planCode)
	}

	e, err := models.GetOrCreateEntitlement(db, userID)
	if err != nil {
		return nil, err
	}

	until := NextPremiumUntil(e.PremiumUntil, now, plan.DurationDays)
	e.PlanCode = plan.Code
	e.PremiumUntil = &until
	if err := db.Save(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// Service exposes the ledger operations that run outside the checkout
// finalize transaction. The cache store is optional; when present, snapshots
// are served from it and invalidated on every write.
type Service struct {
	db    *gorm.DB
	cache cache.Store
}

func NewService(db *gorm.DB, store cache.Store) *Service {
	return &Service{db: db, cache: store}
}

// GrantTrial starts the one-shot account trial. A user whose trial was already
// used gets the current row back unchanged.
func (s *Service) GrantTrial(userID uint) (*models.Entitlement, error) {
	e, err := models.GetOrCreateEntitlement(s.db, userID)
	if err != nil {
		return nil, err
	}
	if e.TrialUsed {
		return e, nil
	}

	applyTrial(e, time.Now())
	if err := s.db.Save(e).Error; err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return e, nil
}

// applyTrial mutates a ledger row with the one-shot trial grant. The premium
// window extends under the same stacking rule as paid activations, so a trial
// granted after a purchase can never shorten premium_until. The plan code only
// drops to trial when no paid window is active.
func applyTrial(e *models.Entitlement, now time.Time) {
	until := NextPremiumUntil(e.PremiumUntil, now, plans.TrialDays)
	if !IsActive(e, now) {
		e.PlanCode = plans.PlanTrial
	}
	e.PremiumUntil = &until
	e.TrialUsed = true
	e.TrialStartedAt = &now
}

// GetSnapshot returns the user's current entitlement snapshot, cached briefly.
func (s *Service) GetSnapshot(userID uint) (Snapshot, error) {
	key := snapshotKey(userID)
	if s.cache != nil {
		if raw, err := s.cache.Get(key); err == nil && raw != "" {
			var snap Snapshot
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				return snap, nil
			}
		}
	}

	e, err := models.GetOrCreateEntitlement(s.db, userID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := SnapshotOf(e, time.Now())

	if s.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			_ = s.cache.Set(key, string(raw), snapshotTTL)
		}
	}
	return snap, nil
}

// InvalidateSnapshot drops the cached snapshot, used by the finalize path
// after it activated entitlement inside its own transaction.
func (s *Service) InvalidateSnapshot(userID uint) {
	s.invalidate(userID)
}

func (s *Service) invalidate(userID uint) {
	if s.cache != nil {
		_ = s.cache.Delete(snapshotKey(userID))
	}
}

func snapshotKey(userID uint) string {
	return fmt.Sprintf("%s%d", snapshotKeyPrefix, userID)
}
