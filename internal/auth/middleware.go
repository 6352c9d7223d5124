//go:generate go run go.uber.org/mock/mockgen -source=middleware.go -destination=../mocks/mock_token_verifier.go -package=mocks
package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// TokenVerifier is the port shared by the REST middleware and the WebSocket handshake.
type TokenVerifier interface {
	VerifyToken(credential string) (int64, error)
}

const userIDKey = "auth.user_id"

// Middleware rejects requests without a valid bearer token and stores the
// subject for UserID.
func Middleware(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := v.VerifyToken(BearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
			if err != nil {
				msg := "invalid credential"
				if errors.Is(err, ErrCredentialMissing) {
					msg = "authentication required"
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the authenticated caller set by Middleware.
func UserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(userIDKey).(int64)
	return id, ok
}
