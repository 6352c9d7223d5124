//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_ws_ports.go -package=mocks
package ws

import (
	"context"
	"errors"

	"github.com/chatline/gateway/internal/domain"
)

// ErrIdentityNotFound is returned when a verified subject has no user record.
var ErrIdentityNotFound = errors.New("identity not found")

// UserLookup resolves the subject of a verified token.
// It returns nil, nil when no such user exists.
type UserLookup interface {
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// MessageCreator persists a message posted over the socket.
type MessageCreator interface {
	CreateMessage(ctx context.Context, authorID, conversationID int64, content string) (*domain.Message, error)
}
