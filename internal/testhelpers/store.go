// Package testhelpers holds fixtures shared by package tests.
package testhelpers

import (
	"context"
	"testing"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedUser inserts a user with the given email.
func SeedUser(t *testing.T, s repository.Store, first, email string) domain.User {
	t.Helper()

	u := domain.User{FirstName: first, LastName: "Test", Email: email}
	if err := s.CreateUser(context.Background(), &u); err != nil {
		t.Fatalf("failed to seed user %s: %v", email, err)
	}
	return u
}

// SeedConversation inserts a conversation between creator and recipient.
func SeedConversation(t *testing.T, s repository.Store, creator, recipient domain.User) domain.Conversation {
	t.Helper()

	c, err := s.CreateConversation(context.Background(), creator.ID, recipient.ID)
	if err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	return *c
}
