package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageEvent_OtherParty(t *testing.T) {
	req := require.New(t)
	alice := User{ID: 1}
	bob := User{ID: 2}

	// Author is the creator: the other party is the recipient
	evt := MessageEvent{Author: alice, Conversation: ConversationRef{Creator: alice, Recipient: bob}}
	req.Equal(int64(2), evt.OtherParty())

	// Author is the recipient: the other party is the creator
	evt = MessageEvent{Author: bob, Conversation: ConversationRef{Creator: alice, Recipient: bob}}
	req.Equal(int64(1), evt.OtherParty())
}

func TestMessageEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		evt     MessageEvent
		wantErr bool
	}{
		{"valid", MessageEvent{Author: User{ID: 1}, Conversation: ConversationRef{Creator: User{ID: 1}, Recipient: User{ID: 2}}}, false},
		{"missing author", MessageEvent{Conversation: ConversationRef{Creator: User{ID: 1}, Recipient: User{ID: 2}}}, true},
		{"missing recipient", MessageEvent{Author: User{ID: 1}, Conversation: ConversationRef{Creator: User{ID: 1}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidEvent)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewMessageEvent(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	conv := Conversation{ID: 7, Creator: User{ID: 1}, Recipient: User{ID: 2}}
	msg := Message{ID: 42, ConversationID: 7, Author: User{ID: 2, FirstName: "Bob"}, Content: "hi", CreatedAt: now}

	evt := NewMessageEvent(msg, conv)

	req.Equal(int64(42), evt.ID)
	req.Equal("hi", evt.Content)
	req.Equal(now, evt.CreatedAt)
	req.Equal(int64(7), evt.Conversation.ID)
	req.Equal(int64(1), evt.OtherParty())
}

func TestUser_DisplayName(t *testing.T) {
	req := require.New(t)
	req.Equal("Ada Lovelace", User{FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	req.Equal("Ada", User{FirstName: "Ada"}.DisplayName())
	req.Equal("ada@example.com", User{Email: "ada@example.com"}.DisplayName())
}
