package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	dbpkg "github.com/flowchat/creditgate/internal/db"
	"github.com/flowchat/creditgate/internal/ledger"
	"github.com/flowchat/creditgate/internal/pricing"
)

func setupCreditsHandler(t *testing.T) (*CreditsHandler, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, errOpen := dbpkg.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	calc := pricing.NewCalculator()
	creditLedger := ledger.New(conn, calc)
	return NewCreditsHandler(creditLedger, calc), creditLedger
}

func postJSON(t *testing.T, handler gin.HandlerFunc, userID uint64, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		t.Fatalf("marshal body: %v", errMarshal)
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		c.Set("userID", userID)
	}
	handler(c)
	return w
}

func TestCreditsBalance(t *testing.T) {
	h, creditLedger := setupCreditsHandler(t)
	if _, errAllocate := creditLedger.Allocate(context.Background(), 7, 250, 5, "admin", "trial"); errAllocate != nil {
		t.Fatalf("allocate: %v", errAllocate)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v0/front/credits/balance", nil)
	c.Set("userID", uint64(7))

	h.Balance(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Credits     int64            `json:"credits"`
		Allocations []allocationView `json:"allocations"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if resp.Credits != 250 {
		t.Fatalf("credits: got %d want 250", resp.Credits)
	}
	if len(resp.Allocations) != 1 || resp.Allocations[0].RemainingCredits != 250 {
		t.Fatalf("allocations wrong: %+v", resp.Allocations)
	}
}

func TestCreditsBalanceUnauthorized(t *testing.T) {
	h, _ := setupCreditsHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v0/front/credits/balance", nil)

	h.Balance(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestCreditsCheck(t *testing.T) {
	h, creditLedger := setupCreditsHandler(t)
	if _, errAllocate := creditLedger.Allocate(context.Background(), 7, 100, 5, "admin", ""); errAllocate != nil {
		t.Fatalf("allocate: %v", errAllocate)
	}

	w := postJSON(t, h.Check, 7, "/v0/front/credits/check", gin.H{"credits": 100})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Sufficient bool  `json:"sufficient"`
		Credits    int64 `json:"credits"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if !resp.Sufficient || resp.Credits != 100 {
		t.Fatalf("expected sufficient for exact balance, got %+v", resp)
	}

	w = postJSON(t, h.Check, 7, "/v0/front/credits/check", gin.H{"credits": 101})
	var over struct {
		Sufficient bool `json:"sufficient"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &over); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if over.Sufficient {
		t.Fatalf("expected insufficient above balance")
	}
}

func TestCreditsCheckRejectsNonPositive(t *testing.T) {
	h, _ := setupCreditsHandler(t)

	w := postJSON(t, h.Check, 7, "/v0/front/credits/check", gin.H{"credits": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for zero credits, got %d", w.Code)
	}
}

func TestCreditsCalculate(t *testing.T) {
	h, _ := setupCreditsHandler(t)

	w := postJSON(t, h.Calculate, 7, "/v0/front/credits/calculate", gin.H{"modelId": "gpt-4", "tokens": 1000})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Credits int64 `json:"credits"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	// gpt-4 blended 50/50 over 1000 tokens: 15 + 30.
	if resp.Credits != 45 {
		t.Fatalf("credits: got %d want 45", resp.Credits)
	}

	w = postJSON(t, h.Calculate, 7, "/v0/front/credits/calculate", gin.H{"modelId": "never-heard-of-it", "tokens": 1000})
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if resp.Credits != 3 {
		t.Fatalf("default rate credits: got %d want 3", resp.Credits)
	}
}

func TestCreditsCalculateRejectsBadInput(t *testing.T) {
	h, _ := setupCreditsHandler(t)

	w := postJSON(t, h.Calculate, 7, "/v0/front/credits/calculate", gin.H{"tokens": 1000})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing modelId, got %d", w.Code)
	}
	w = postJSON(t, h.Calculate, 7, "/v0/front/credits/calculate", gin.H{"modelId": "gpt-4", "tokens": -1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative tokens, got %d", w.Code)
	}
}
