// Package presence mirrors the session registry into Redis so other services
// can see which gateway holds a user. Delivery never reads it.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/hub"
)

// KeyPrefix namespaces presence keys: chat:presence:<user id>.
const KeyPrefix = "chat:presence:"

// Key returns the presence key of a user.
func Key(userID int64) string { return KeyPrefix + strconv.FormatInt(userID, 10) }

// RedisMirror is a registry observer writing one key per online user,
// valued with the gateway id and the connection id.
type RedisMirror struct {
	rdb       redis.UniversalClient
	gatewayID string
	ttl       time.Duration
	timeout   time.Duration
	log       *zap.Logger
}

var _ hub.Observer = (*RedisMirror)(nil)

// NewRedisMirror creates the observer. Writes use a short timeout so a slow
// Redis never holds up a handshake for long.
func NewRedisMirror(rdb redis.UniversalClient, gatewayID string, ttl time.Duration, log *zap.Logger) *RedisMirror {
	return &RedisMirror{
		rdb:       rdb,
		gatewayID: gatewayID,
		ttl:       ttl,
		timeout:   500 * time.Millisecond,
		log:       log,
	}
}

func (m *RedisMirror) value(h hub.Handle) string {
	return m.gatewayID + "/" + h.ID()
}

// OnRegister marks the user online.
func (m *RedisMirror) OnRegister(userID int64, h hub.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.rdb.Set(ctx, Key(userID), m.value(h), m.ttl).Err(); err != nil {
		m.log.Warn("Failed to mirror presence", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// unregisterScript deletes the key only while it still names the leaving handle.
var unregisterScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OnUnregister marks the user offline unless another connection took over.
func (m *RedisMirror) OnUnregister(userID int64, h hub.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := unregisterScript.Run(ctx, m.rdb, []string{Key(userID)}, m.value(h)).Err(); err != nil && err != redis.Nil {
		m.log.Warn("Failed to clear presence", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Refresh renews the TTL of every registered user. Run it more often than the TTL.
func (m *RedisMirror) Refresh(ctx context.Context, entries []hub.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := m.rdb.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, Key(e.UserID), m.value(e.Handle), m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Run refreshes presence every interval until ctx is done.
func (m *RedisMirror) Run(ctx context.Context, interval time.Duration, snapshot func() []hub.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx, snapshot()); err != nil {
				m.log.Warn("Failed to refresh presence", zap.Error(err))
			}
		}
	}
}
