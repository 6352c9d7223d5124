package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/policy"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type messageInput struct {
	ConversationID int64  `validate:"gt=0"`
	Content        string `validate:"required,max=4000"`
}

// CreateMessage stores a message from authorID and publishes it for delivery.
// A failed publication is logged; the stored message is still returned.
func (s *Service) CreateMessage(ctx context.Context, authorID, conversationID int64, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if err := s.validate.Struct(messageInput{ConversationID: conversationID, Content: content}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if err := s.authorize(ctx, policy.Input{
		Action:      policy.ActionCreate,
		UserID:      authorID,
		CreatorID:   conv.Creator.ID,
		RecipientID: conv.Recipient.ID,
	}); err != nil {
		return nil, err
	}

	author := conv.Creator
	if authorID != conv.Creator.ID {
		author = conv.Recipient
	}
	msg := &domain.Message{
		ConversationID: conv.ID,
		Author:         author,
		Content:        content,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	evt := domain.NewMessageEvent(*msg, *conv)
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn("Message stored but not published",
			zap.Int64("message_id", msg.ID),
			zap.Int64("conversation_id", conv.ID),
			zap.Error(err))
	}
	return msg, nil
}

// MessagePage is one page of history. HasMore reports whether older
// messages exist beyond it.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// clampPageSize maps a requested page size to the one actually served.
func clampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// GetMessages returns a page of a conversation's history, newest first.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID int64, limit int, before int64) (*MessagePage, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	limit = clampPageSize(limit)
	// One extra row tells whether another page exists.
	messages, err := s.store.GetMessages(ctx, conversationID, limit+1, before)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	page := &MessagePage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		page.HasMore = true
	}
	return page, nil
}

// UpdateMessage edits the content of one of userID's messages. Edits are not pushed.
func (s *Service) UpdateMessage(ctx context.Context, userID, messageID int64, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if err := s.validate.Var(content, "required,max=4000"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if err := s.authorize(ctx, policy.Input{
		Action:      policy.ActionEdit,
		UserID:      userID,
		CreatorID:   conv.Creator.ID,
		RecipientID: conv.Recipient.ID,
		AuthorID:    msg.Author.ID,
	}); err != nil {
		return nil, err
	}

	if err := s.store.UpdateMessageContent(ctx, messageID, content); err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	msg.Content = content
	return msg, nil
}

func (s *Service) authorize(ctx context.Context, input policy.Input) error {
	err := s.policy.Authorize(ctx, input)
	if errors.Is(err, policy.ErrDenied) {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	return nil
}
