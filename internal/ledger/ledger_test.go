package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	dbpkg "github.com/flowchat/creditgate/internal/db"
	"github.com/flowchat/creditgate/internal/models"
	"github.com/flowchat/creditgate/internal/pricing"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	conn, errOpen := dbpkg.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return New(conn, pricing.NewCalculator()), conn
}

func mustAllocate(t *testing.T, l *Ledger, userID uint64, credits int64, expiryDays int) *models.CreditAllocation {
	t.Helper()
	allocation, errAllocate := l.Allocate(context.Background(), userID, credits, expiryDays, "test-admin", "")
	if errAllocate != nil {
		t.Fatalf("allocate: %v", errAllocate)
	}
	return allocation
}

func remainingOf(t *testing.T, conn *gorm.DB, id uint64) int64 {
	t.Helper()
	var allocation models.CreditAllocation
	if errFind := conn.First(&allocation, id).Error; errFind != nil {
		t.Fatalf("load allocation %d: %v", id, errFind)
	}
	if allocation.RemainingCredits < 0 || allocation.RemainingCredits > allocation.TotalCredits {
		t.Fatalf("allocation %d invariant violated: remaining=%d total=%d",
			id, allocation.RemainingCredits, allocation.TotalCredits)
	}
	return allocation.RemainingCredits
}

func TestAllocateAutoProvisionsUser(t *testing.T) {
	l, conn := newTestLedger(t)

	mustAllocate(t, l, 7, 100, 0)

	var user models.User
	if errFind := conn.First(&user, 7).Error; errFind != nil {
		t.Fatalf("expected auto-provisioned user: %v", errFind)
	}
}

func TestAllocateDefaultExpiry(t *testing.T) {
	l, _ := newTestLedger(t)

	allocation := mustAllocate(t, l, 1, 100, 0)
	days := allocation.ExpiresAt.Sub(allocation.AllocatedAt).Hours() / 24
	if days < 29.9 || days > 30.1 {
		t.Fatalf("expected ~30 day expiry, got %.2f days", days)
	}
}

func TestAllocateRejectsNonPositiveCredits(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, errAllocate := l.Allocate(context.Background(), 1, 0, 0, "a", ""); !errors.Is(errAllocate, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", errAllocate)
	}
}

func TestCheckSufficientBoundary(t *testing.T) {
	l, _ := newTestLedger(t)
	mustAllocate(t, l, 1, 100, 10)

	ok, errCheck := l.CheckSufficient(context.Background(), 1, 100)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if !ok {
		t.Fatalf("sum == required must be sufficient")
	}

	ok, errCheck = l.CheckSufficient(context.Background(), 1, 101)
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if ok {
		t.Fatalf("101 > 100 must be insufficient")
	}
}

func TestCheckSufficientRejectsNonPositive(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, errCheck := l.CheckSufficient(context.Background(), 1, 0); !errors.Is(errCheck, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", errCheck)
	}
}

func TestDeductFIFOByExpiry(t *testing.T) {
	l, conn := newTestLedger(t)

	// Expiring sooner, allocated second: must still be consumed first.
	second := mustAllocate(t, l, 1, 10, 20)
	first := mustAllocate(t, l, 1, 5, 1)

	ok, errDeduct := l.Deduct(context.Background(), 1, 7)
	if errDeduct != nil {
		t.Fatalf("deduct: %v", errDeduct)
	}
	if !ok {
		t.Fatalf("deduct must succeed")
	}

	if got := remainingOf(t, conn, first.ID); got != 0 {
		t.Fatalf("soonest-expiring allocation: got %d want 0", got)
	}
	if got := remainingOf(t, conn, second.ID); got != 8 {
		t.Fatalf("later-expiring allocation: got %d want 8", got)
	}
}

func TestDeductAllOrNothing(t *testing.T) {
	l, conn := newTestLedger(t)

	a := mustAllocate(t, l, 1, 5, 1)
	b := mustAllocate(t, l, 1, 7, 20)

	ok, errDeduct := l.Deduct(context.Background(), 1, 20)
	if errDeduct != nil {
		t.Fatalf("deduct: %v", errDeduct)
	}
	if ok {
		t.Fatalf("deduct beyond balance must fail")
	}

	if got := remainingOf(t, conn, a.ID); got != 5 {
		t.Fatalf("allocation a mutated: got %d want 5", got)
	}
	if got := remainingOf(t, conn, b.ID); got != 7 {
		t.Fatalf("allocation b mutated: got %d want 7", got)
	}
}

func TestDeductIgnoresExpiredAllocations(t *testing.T) {
	l, conn := newTestLedger(t)

	expired := mustAllocate(t, l, 1, 100, 10)
	past := time.Now().UTC().Add(-time.Hour)
	if errUpdate := conn.Model(&models.CreditAllocation{}).
		Where("id = ?", expired.ID).
		Update("expires_at", past).Error; errUpdate != nil {
		t.Fatalf("expire allocation: %v", errUpdate)
	}
	live := mustAllocate(t, l, 1, 10, 10)

	balance, errBalance := l.GetBalance(context.Background(), 1)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance.Credits != 10 {
		t.Fatalf("expired credits counted: got %d want 10", balance.Credits)
	}
	if len(balance.Allocations) != 1 {
		t.Fatalf("expected 1 active allocation, got %d", len(balance.Allocations))
	}

	ok, errDeduct := l.Deduct(context.Background(), 1, 50)
	if errDeduct != nil {
		t.Fatalf("deduct: %v", errDeduct)
	}
	if ok {
		t.Fatalf("expired credits must not be deductible")
	}
	if got := remainingOf(t, conn, expired.ID); got != 100 {
		t.Fatalf("expired allocation mutated: got %d", got)
	}
	if got := remainingOf(t, conn, live.ID); got != 10 {
		t.Fatalf("live allocation mutated: got %d", got)
	}
}

func TestBalanceListsDrainedUnexpiredAllocations(t *testing.T) {
	l, _ := newTestLedger(t)

	drained := mustAllocate(t, l, 1, 20, 10)
	kept := mustAllocate(t, l, 1, 30, 20)

	ok, errDeduct := l.Deduct(context.Background(), 1, 20)
	if errDeduct != nil || !ok {
		t.Fatalf("deduct: ok=%v err=%v", ok, errDeduct)
	}

	balance, errBalance := l.GetBalance(context.Background(), 1)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance.Credits != 30 {
		t.Fatalf("credits: got %d want 30", balance.Credits)
	}
	// The drained allocation is not expired, so it stays visible in the
	// listing with zero remaining; only deduction skips it.
	if len(balance.Allocations) != 2 {
		t.Fatalf("expected 2 listed allocations, got %d", len(balance.Allocations))
	}
	if balance.Allocations[0].ID != drained.ID || balance.Allocations[0].RemainingCredits != 0 {
		t.Fatalf("drained allocation wrong: %+v", balance.Allocations[0])
	}
	if balance.Allocations[1].ID != kept.ID || balance.Allocations[1].RemainingCredits != 30 {
		t.Fatalf("kept allocation wrong: %+v", balance.Allocations[1])
	}
}

func TestDeductScenario(t *testing.T) {
	l, conn := newTestLedger(t)

	first := mustAllocate(t, l, 9, 100, 1)
	second := mustAllocate(t, l, 9, 50, 30)

	ok, errCheck := l.CheckSufficient(context.Background(), 9, 120)
	if errCheck != nil || !ok {
		t.Fatalf("check 120: ok=%v err=%v", ok, errCheck)
	}

	ok, errDeduct := l.Deduct(context.Background(), 9, 120)
	if errDeduct != nil || !ok {
		t.Fatalf("deduct 120: ok=%v err=%v", ok, errDeduct)
	}

	if got := remainingOf(t, conn, first.ID); got != 0 {
		t.Fatalf("first allocation: got %d want 0", got)
	}
	if got := remainingOf(t, conn, second.ID); got != 30 {
		t.Fatalf("second allocation: got %d want 30", got)
	}

	balance, errBalance := l.GetBalance(context.Background(), 9)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance.Credits != 30 {
		t.Fatalf("balance after deduct: got %d want 30", balance.Credits)
	}
}

func TestDeductRejectsNonPositive(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, errDeduct := l.Deduct(context.Background(), 1, -1); !errors.Is(errDeduct, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", errDeduct)
	}
}

func TestDeductConcurrentNoDoubleSpend(t *testing.T) {
	// File-backed store: every pooled connection must see the same database
	// for the lock contention to be real.
	conn, errOpen := dbpkg.Open("file:" + filepath.Join(t.TempDir(), "ledger.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	l := New(conn, pricing.NewCalculator())
	mustAllocate(t, l, 1, 100, 10)

	const workers = 8
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			ok, errDeduct := l.Deduct(context.Background(), 1, 30)
			if errDeduct != nil {
				results <- false
				return
			}
			results <- ok
		}()
	}

	succeeded := 0
	for i := 0; i < workers; i++ {
		if <-results {
			succeeded++
		}
	}
	// 100 credits cover at most three 30-credit deductions.
	if succeeded > 3 {
		t.Fatalf("double spend: %d deductions of 30 succeeded on balance 100", succeeded)
	}

	var total int64
	if errSum := conn.Model(&models.CreditAllocation{}).
		Select("COALESCE(SUM(remaining_credits), 0)").
		Scan(&total).Error; errSum != nil {
		t.Fatalf("sum: %v", errSum)
	}
	if total != 100-int64(succeeded)*30 {
		t.Fatalf("balance drift: %d succeeded but %d remaining", succeeded, total)
	}
}

func TestCalculateCreditsForTokens(t *testing.T) {
	l, _ := newTestLedger(t)

	// gpt-4: 30 in / 60 out per 1k.
	if got := l.CalculateCreditsForTokens("gpt-4", 1000, 0, pricing.TokenTypeInput); got != 30 {
		t.Fatalf("input: got %d want 30", got)
	}
	if got := l.CalculateCreditsForTokens("gpt-4", 0, 1000, pricing.TokenTypeOutput); got != 60 {
		t.Fatalf("output: got %d want 60", got)
	}
	if got := l.CalculateCreditsForTokens("gpt-4", 500, 500, pricing.TokenTypeBoth); got != 45 {
		t.Fatalf("both: got %d want 45", got)
	}
	if got := l.CalculateCreditsForTokens("unknown-model", 500, 500, pricing.TokenTypeBoth); got < 0 {
		t.Fatalf("unknown model must not be negative, got %d", got)
	}
}
