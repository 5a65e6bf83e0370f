package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndParseAccessToken(t *testing.T) {
	token, expires, err := SignAccessToken(42, "alice", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if time.Until(expires) < 59*time.Minute {
		t.Fatalf("expiry %v is not about an hour out", expires)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Type != "access" {
		t.Fatalf("typ = %q, want access", claims.Type)
	}
}

func TestRefreshTokenCarriesRefreshType(t *testing.T) {
	token, _, err := SignRefreshToken(42, "alice", "", time.Hour)
	if err != nil {
		t.Fatalf("SignRefreshToken() error = %v", err)
	}
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Type != "refresh" {
		t.Fatalf("typ = %q, want refresh", claims.Type)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, _, err := SignAccessToken(42, "alice", "", -time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if _, err := ParseToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("ParseToken() error = %v, want expired", err)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	token, _, err := SignAccessToken(42, "alice", "", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if _, err := ParseToken(token + "x"); err == nil {
		t.Fatalf("ParseToken() accepted a tampered token")
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret-a")
	token, _, err := SignAccessToken(42, "alice", "", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}

	t.Setenv("JWT_SECRET", "secret-b")
	if _, err := ParseToken(token); err == nil {
		t.Fatalf("ParseToken() accepted a token signed with another secret")
	}
}
