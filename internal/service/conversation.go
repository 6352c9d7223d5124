package service

import (
	"context"
	"fmt"

	"github.com/chatline/gateway/internal/domain"
)

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// CreateConversation returns the conversation between the two users, creating
// it when none exists yet. created reports whether a new one was made.
func (s *Service) CreateConversation(ctx context.Context, creatorID, recipientID int64) (conv *domain.Conversation, created bool, err error) {
	if recipientID <= 0 {
		return nil, false, fmt.Errorf("%w: recipient is required", ErrInvalidInput)
	}
	if _, err := s.GetUser(ctx, recipientID); err != nil {
		return nil, false, err
	}

	conv, err = s.store.FindConversationBetween(ctx, creatorID, recipientID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find conversation: %w", err)
	}
	if conv != nil {
		return conv, false, nil
	}

	conv, err = s.store.CreateConversation(ctx, creatorID, recipientID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, true, nil
}

// GetConversations lists the caller's conversations, most recently active first.
func (s *Service) GetConversations(ctx context.Context, userID int64) ([]domain.Conversation, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// GetConversation returns a conversation userID takes part in.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID int64) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}
