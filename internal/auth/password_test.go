package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordChecker(t *testing.T) {
	store := newFakeStore()
	c, err := NewPasswordChecker(store)
	if err != nil {
		t.Fatalf("NewPasswordChecker: %v", err)
	}
	rec, err := c.Register(context.Background(), " Admin@Bazaar.org ", "s3cret-pass")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rec.Email != "admin@bazaar.org" || rec.PasswordHash == "s3cret-pass" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	id, err := c.Check(context.Background(), "admin@bazaar.org", "s3cret-pass")
	if err != nil || id != rec.ID {
		t.Fatalf("Check = %q, %v", id, err)
	}
	if _, err := c.Check(context.Background(), "admin@bazaar.org", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := c.Check(context.Background(), "nobody@bazaar.org", "s3cret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
	if _, err := c.Register(context.Background(), "admin@bazaar.org", "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: %v", err)
	}
}

func TestDummyHashMatchesRealCost(t *testing.T) {
	cost, err := bcrypt.Cost(dummyHash)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Fatalf("dummy hash cost %d, want %d", cost, bcrypt.DefaultCost)
	}
	hash, err := HashPassword("anything")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if realCost, _ := bcrypt.Cost([]byte(hash)); realCost != cost {
		t.Fatalf("real hash cost %d differs from dummy %d", realCost, cost)
	}
}
