package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatline/gateway/internal/domain"
)

func TestConnection_Lifecycle(t *testing.T) {
	req := require.New(t)
	conn := NewConnection(nil, 4)
	req.NotEmpty(conn.ID())
	req.Equal(StateConnecting, conn.State())

	// Pushing before activation is refused
	req.ErrorIs(conn.Push([]byte("x")), ErrConnectionClosed)

	// Activation is only possible from Authenticating
	req.ErrorIs(conn.Activate(Identity{User: domain.User{ID: 1}}), ErrInvalidTransition)
	req.NoError(conn.BeginAuth())
	req.Equal(StateAuthenticating, conn.State())
	_, ok := conn.Identity()
	req.False(ok)

	req.NoError(conn.Activate(Identity{User: domain.User{ID: 1}, AuthenticatedAt: time.Now()}))
	req.Equal(StateActive, conn.State())
	id, ok := conn.Identity()
	req.True(ok)
	req.Equal(int64(1), id.User.ID)

	req.NoError(conn.Push([]byte("hello")))
	req.Equal([]byte("hello"), <-conn.Outbound())

	// Closed is terminal
	req.True(conn.MarkClosed())
	req.False(conn.MarkClosed())
	req.Equal(StateClosed, conn.State())
	req.ErrorIs(conn.Push([]byte("late")), ErrConnectionClosed)
	req.ErrorIs(conn.BeginAuth(), ErrInvalidTransition)

	_, open := <-conn.Outbound()
	req.False(open)
}

func TestConnection_Push_Buffer_Full_Closes(t *testing.T) {
	req := require.New(t)
	conn := NewConnection(nil, 1)
	req.NoError(conn.BeginAuth())
	req.NoError(conn.Activate(Identity{User: domain.User{ID: 1}}))

	req.NoError(conn.Push([]byte("a")))
	req.ErrorIs(conn.Push([]byte("b")), ErrBufferFull)
	req.Equal(StateClosed, conn.State())
}

func TestConnection_Closed_During_Auth(t *testing.T) {
	req := require.New(t)
	conn := NewConnection(nil, 1)
	req.NoError(conn.BeginAuth())

	// When the socket drops while the identity lookup is in flight
	conn.MarkClosed()

	// Then the connection can never become active
	req.ErrorIs(conn.Activate(Identity{User: domain.User{ID: 1}}), ErrInvalidTransition)
	req.Equal(StateClosed, conn.State())
}

func TestState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", StateConnecting.String())
	req.Equal("authenticating", StateAuthenticating.String())
	req.Equal("active", StateActive.String())
	req.Equal("closed", StateClosed.String())
	req.Equal("unknown", State(42).String())
}
