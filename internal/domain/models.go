// Package domain holds the chat entities shared by the gateway and the message API.
package domain

import (
	"errors"
	"time"
)

// User is the identity resolved for a connection or an API caller.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// DisplayName returns "First Last", falling back to the email.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

// Conversation is a two-party thread between its creator and recipient.
type Conversation struct {
	ID              int64     `json:"id"`
	Creator         User      `json:"creator"`
	Recipient       User      `json:"recipient"`
	CreatedAt       time.Time `json:"createdAt"`
	LastMessageSent *int64    `json:"lastMessageSentId,omitempty"`
}

// HasParticipant reports whether userID is the creator or the recipient.
func (c Conversation) HasParticipant(userID int64) bool {
	return c.Creator.ID == userID || c.Recipient.ID == userID
}

// Message is a persisted chat message.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Author         User      `json:"author"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationRef is the slice of a conversation carried by a message event.
type ConversationRef struct {
	ID        int64 `json:"id"`
	Creator   User  `json:"creator"`
	Recipient User  `json:"recipient"`
}

// MessageEvent is the payload emitted once a message has been persisted.
// It is pushed verbatim to connected clients as the onMessage event.
type MessageEvent struct {
	ID           int64           `json:"id"`
	Content      string          `json:"content"`
	CreatedAt    time.Time       `json:"createdAt"`
	Author       User            `json:"author"`
	Conversation ConversationRef `json:"conversation"`
}

// ErrInvalidEvent is returned by MessageEvent.Validate.
var ErrInvalidEvent = errors.New("invalid message event")

// Validate checks that the event names an author and both participants.
func (e MessageEvent) Validate() error {
	if e.Author.ID == 0 {
		return errors.Join(ErrInvalidEvent, errors.New("author.id is required"))
	}
	if e.Conversation.Creator.ID == 0 || e.Conversation.Recipient.ID == 0 {
		return errors.Join(ErrInvalidEvent, errors.New("conversation creator and recipient ids are required"))
	}
	return nil
}

// OtherParty returns the participant that is not the author.
func (e MessageEvent) OtherParty() int64 {
	if e.Author.ID == e.Conversation.Creator.ID {
		return e.Conversation.Recipient.ID
	}
	return e.Conversation.Creator.ID
}

// NewMessageEvent builds the event for a stored message and its conversation.
func NewMessageEvent(m Message, c Conversation) MessageEvent {
	return MessageEvent{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Author:    m.Author,
		Conversation: ConversationRef{
			ID:        c.ID,
			Creator:   c.Creator,
			Recipient: c.Recipient,
		},
	}
}
