// Package service implements the message flows behind the REST API and the
// socket createMessage frame.
package service

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/events"
	"github.com/chatline/gateway/internal/policy"
	"github.com/chatline/gateway/internal/repository"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrForbidden            = errors.New("forbidden")
)

type Service struct {
	store     repository.Store
	policy    *policy.Engine
	publisher events.Publisher
	validate  *validator.Validate
	log       *zap.Logger
}

func New(store repository.Store, policyEngine *policy.Engine, publisher events.Publisher, log *zap.Logger) *Service {
	return &Service{
		store:     store,
		policy:    policyEngine,
		publisher: publisher,
		validate:  validator.New(),
		log:       log,
	}
}
