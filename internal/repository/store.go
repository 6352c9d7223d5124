// Package repository persists users, conversations and messages.
package repository

import (
	"context"
	"errors"

	"github.com/chatline/gateway/internal/domain"
)

// ErrNotFound is returned by writes that matched no row.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface used by the gateway. Getters return
// nil, nil when the row does not exist.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// Conversations
	CreateConversation(ctx context.Context, creatorID, recipientID int64) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)
	FindConversationBetween(ctx context.Context, userA, userB int64) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]domain.Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	GetMessages(ctx context.Context, conversationID int64, limit int, before int64) ([]domain.Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string) error

	Close() error
}
