package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func validClaims() Claims {
	return Claims{
		Sub:   "usr_1",
		Email: "alice@example.com",
		Role:  "user",
		JTI:   "jti_1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Sub != "usr_1" || claims.Email != "alice@example.com" || claims.JTI != "jti_1" {
		t.Errorf("claims round trip mismatch: %+v", claims)
	}
}

func TestParseRejectsTamperedPayload(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "x." + parts[1]

	if _, err := ParseToken(secret, tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	claims := validClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "onlyonepart", "a.b.c"} {
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseToken(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("HashToken should be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("different tokens should hash differently")
	}
	if len(HashToken("abc")) != 64 {
		t.Error("expected hex sha256 output")
	}
}
