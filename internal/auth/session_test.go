package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidateToken(t *testing.T) {
	sm, err := NewSessionManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}

	token, err := sm.IssueToken(Claims{Subject: "user-1", Email: "user@example.com"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "user@example.com" {
		t.Errorf("claims = %+v, want subject/email round-tripped", claims)
	}
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	issuer, _ := NewSessionManager(testSecret, time.Hour)
	verifier, _ := NewSessionManager(strings.Repeat("x", 32), time.Hour)

	token, err := issuer.IssueToken(Claims{Subject: "user-1"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("ValidateToken() with a different signing key should fail")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	sm, _ := NewSessionManager(testSecret, time.Hour)
	if _, err := sm.ValidateToken("not.a.jwt"); err == nil {
		t.Error("ValidateToken() on garbage input should fail")
	}
}

func TestNewSessionManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewSessionManager("short", time.Hour); err == nil {
		t.Error("NewSessionManager() with a short secret should fail")
	}
}
