package security

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateStreamTokenUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		token, errGen := GenerateStreamToken()
		if errGen != nil {
			t.Fatalf("generate: %v", errGen)
		}
		if !strings.HasPrefix(token, "strm_") {
			t.Fatalf("unexpected prefix: %q", token)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = struct{}{}
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	token, errGen := GenerateToken("secret", 42, "alice", time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	claims, errParse := ParseToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id: got %d", claims.UserID)
	}
}

func TestUserTokenWrongSecret(t *testing.T) {
	token, errGen := GenerateToken("secret", 42, "alice", time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, errParse := ParseToken("other", token); errParse == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestUserTokenExpired(t *testing.T) {
	token, errGen := GenerateToken("secret", 42, "alice", -time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if _, errParse := ParseToken("secret", token); errParse != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", errParse)
	}
}

func TestAdminTokenRoundTrip(t *testing.T) {
	token, errGen := GenerateAdminToken("secret", 1, "root", time.Minute)
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	claims, errParse := ParseAdminToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.AdminID != 1 || claims.Username != "root" {
		t.Fatalf("claims wrong: %+v", claims)
	}

	// Admin tokens must not validate as user tokens even with the same
	// secret; the claim structure differs.
	if userClaims, errCross := ParseToken("secret", token); errCross == nil && userClaims.UserID != 0 {
		t.Fatalf("admin token yielded a user id: %+v", userClaims)
	}
	if _, errWrong := ParseAdminToken("other", token); errWrong == nil {
		t.Fatalf("expected validation failure with wrong secret")
	}
}

func TestAdminKeyHash(t *testing.T) {
	hash, errHash := HashKey("admin-key")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !CheckKey(hash, "admin-key") {
		t.Fatalf("expected key match")
	}
	if CheckKey(hash, "wrong") {
		t.Fatalf("expected key mismatch")
	}
}
