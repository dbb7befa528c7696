// Package ledger owns persisted credit allocations and implements balance
// queries, sufficiency checks, and FIFO-by-expiry deduction.
//
// All read paths are safe to retry. Deduct must not be retried blindly by
// callers without idempotency protection: a retry after a successful but
// unacknowledged deduction would double-charge.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchat/creditgate/internal/config"
	"github.com/flowchat/creditgate/internal/models"
	"github.com/flowchat/creditgate/internal/pricing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger errors.
var (
	// ErrInvalidArgument indicates a caller contract violation, such as a
	// non-positive credit amount.
	ErrInvalidArgument = errors.New("ledger: invalid argument")
	// ErrInsufficientCredits indicates the balance cannot cover a charge.
	// This is a routine business outcome, not an infrastructure failure.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrUnavailable indicates the credit store cannot be reached. Callers
	// must treat this as a denial, never as an allow.
	ErrUnavailable = errors.New("ledger: unavailable")
)

// Balance is a consistent snapshot of a user's spendable credits. The total
// is computed from exactly the allocations returned, so the two never drift.
type Balance struct {
	Credits     int64
	Allocations []models.CreditAllocation
}

// Ledger provides credit accounting over a GORM store.
type Ledger struct {
	db   *gorm.DB
	calc *pricing.Calculator
}

// New constructs a Ledger.
func New(db *gorm.DB, calc *pricing.Calculator) *Ledger {
	return &Ledger{db: db, calc: calc}
}

// activeAllocations scopes a query to spendable allocations in FIFO-by-expiry
// order: soonest-expiring first, so credits about to expire are consumed
// before credits with longer remaining life.
func activeAllocations(tx *gorm.DB, userID uint64, now time.Time) *gorm.DB {
	return tx.Model(&models.CreditAllocation{}).
		Where("user_id = ? AND remaining_credits > 0 AND expires_at > ?", userID, now).
		Order("expires_at ASC, id ASC")
}

// unexpiredAllocations scopes a query to all non-expired allocations,
// including ones drained to zero. Balance listings show these so a user can
// see where their credits went; only deduction skips them.
func unexpiredAllocations(tx *gorm.DB, userID uint64, now time.Time) *gorm.DB {
	return tx.Model(&models.CreditAllocation{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("expires_at ASC, id ASC")
}

// GetBalance returns the total remaining credits and the non-expired
// allocations they are computed from, sorted by expiry ascending.
func (l *Ledger) GetBalance(ctx context.Context, userID uint64) (Balance, error) {
	if l == nil || l.db == nil {
		return Balance{}, ErrUnavailable
	}
	now := time.Now().UTC()

	var allocations []models.CreditAllocation
	if errFind := unexpiredAllocations(l.db.WithContext(ctx), userID, now).
		Find(&allocations).Error; errFind != nil {
		return Balance{}, fmt.Errorf("%w: query allocations: %v", ErrUnavailable, errFind)
	}

	total := int64(0)
	for _, allocation := range allocations {
		total += allocation.RemainingCredits
	}
	return Balance{Credits: total, Allocations: allocations}, nil
}

// CheckSufficient reports whether the user's non-expired remaining credits
// cover the required amount. required must be positive.
func (l *Ledger) CheckSufficient(ctx context.Context, userID uint64, required int64) (bool, error) {
	if required <= 0 {
		return false, fmt.Errorf("%w: required credits must be positive, got %d", ErrInvalidArgument, required)
	}
	balance, errBalance := l.GetBalance(ctx, userID)
	if errBalance != nil {
		return false, errBalance
	}
	return balance.Credits >= required, nil
}

// Allocate grants a new time-bounded credit allocation. The user record is
// auto-provisioned on first allocation; auto-created users start with zero
// permissions beyond what is explicitly granted. expiryDays <= 0 selects the
// 30-day default.
func (l *Ledger) Allocate(ctx context.Context, userID uint64, totalCredits int64, expiryDays int, allocatedBy, note string) (*models.CreditAllocation, error) {
	if l == nil || l.db == nil {
		return nil, ErrUnavailable
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	if totalCredits <= 0 {
		return nil, fmt.Errorf("%w: total credits must be positive, got %d", ErrInvalidArgument, totalCredits)
	}
	if expiryDays <= 0 {
		expiryDays = config.DefaultExpiryDays
	}

	now := time.Now().UTC()
	allocation := models.CreditAllocation{
		UserID:           userID,
		TotalCredits:     totalCredits,
		RemainingCredits: totalCredits,
		AllocatedAt:      now,
		ExpiresAt:        now.AddDate(0, 0, expiryDays),
		AllocatedBy:      allocatedBy,
		Note:             note,
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errUser := tx.Where(models.User{ID: userID}).
			FirstOrCreate(&models.User{ID: userID}).Error; errUser != nil {
			return errUser
		}
		return tx.Create(&allocation).Error
	})
	if errTx != nil {
		return nil, fmt.Errorf("%w: allocate: %v", ErrUnavailable, errTx)
	}
	return &allocation, nil
}

// Deduct removes credits from the oldest-expiring allocations first. The
// operation is all-or-nothing: when the non-expired remaining total cannot
// cover the full amount, nothing is mutated and false is returned. The
// sufficiency check and the decrements run inside one transaction with the
// allocation rows locked, so two concurrent deductions cannot both succeed
// against the same credits.
func (l *Ledger) Deduct(ctx context.Context, userID uint64, credits int64) (bool, error) {
	if l == nil || l.db == nil {
		return false, ErrUnavailable
	}
	if credits <= 0 {
		return false, fmt.Errorf("%w: credits must be positive, got %d", ErrInvalidArgument, credits)
	}

	now := time.Now().UTC()
	deducted := false
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allocations []models.CreditAllocation
		if errFind := activeAllocations(tx, userID, now).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Find(&allocations).Error; errFind != nil {
			return errFind
		}

		total := int64(0)
		for _, allocation := range allocations {
			total += allocation.RemainingCredits
		}
		if total < credits {
			// Insufficient: leave every allocation untouched.
			return nil
		}

		remaining := credits
		for _, allocation := range allocations {
			if remaining <= 0 {
				break
			}
			take := allocation.RemainingCredits
			if take > remaining {
				take = remaining
			}
			res := tx.Model(&models.CreditAllocation{}).
				Where("id = ? AND remaining_credits >= ?", allocation.ID, take).
				Updates(map[string]any{
					"remaining_credits": gorm.Expr("remaining_credits - ?", take),
					"updated_at":        now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("allocation %d changed under lock", allocation.ID)
			}
			remaining -= take
		}
		if remaining > 0 {
			return fmt.Errorf("allocations exhausted with %d credits uncovered", remaining)
		}
		deducted = true
		return nil
	})
	if errTx != nil {
		return false, fmt.Errorf("%w: deduct: %v", ErrUnavailable, errTx)
	}
	return deducted, nil
}

// CalculateCreditsForTokens converts token counts into a credit cost through
// the pricing calculator, rounded up to the next whole credit.
func (l *Ledger) CalculateCreditsForTokens(modelID string, inputTokens, outputTokens int64, tokenType pricing.TokenType) int64 {
	switch tokenType {
	case pricing.TokenTypeInput:
		return l.calc.Cost(modelID, inputTokens, pricing.TokenTypeInput)
	case pricing.TokenTypeOutput:
		return l.calc.Cost(modelID, outputTokens, pricing.TokenTypeOutput)
	default:
		return l.calc.Cost(modelID, inputTokens+outputTokens, pricing.TokenTypeBoth)
	}
}
