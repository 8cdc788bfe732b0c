package auth

import (
	"context"
	"errors"
	"testing"
)

func TestTokenHelpers(t *testing.T) {
	a, err := generateToken(32)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	b, _ := generateToken(32)
	if a == b || len(a) != 43 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
	if hashToken(a) == hashToken(b) || len(hashToken(a)) != 64 {
		t.Fatalf("hashes should differ and be hex sha256")
	}
	if hashToken(a) != hashToken(a) {
		t.Fatalf("hash must be stable")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RoleAdmin, RoleTeacher, RoleStudent} {
		if !IsValidRole(r) {
			t.Fatalf("%s should be valid", r)
		}
	}
	for _, r := range []string{"", "guru", "ADMIN"} {
		if IsValidRole(r) {
			t.Fatalf("%q should be invalid", r)
		}
	}
}

func TestServiceRejectsBlankInputWithoutDB(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	ctx := context.Background()

	if _, err := svc.AuthenticatePassword(ctx, "  ", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.GetSessionUser(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.RevokeSession(ctx, " "); err != nil {
		t.Fatalf("revoking an empty token is a no-op, got %v", err)
	}
	if _, err := svc.UpsertUser(ctx, UpsertUserInput{Username: "bob", Role: "guru"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.UpsertUser(ctx, UpsertUserInput{Username: "bob", Role: RoleTeacher, Password: "short"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}
