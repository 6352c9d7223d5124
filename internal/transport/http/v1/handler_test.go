package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/auth"
	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/events"
	"github.com/chatline/gateway/internal/policy"
	"github.com/chatline/gateway/internal/repository"
	"github.com/chatline/gateway/internal/service"
	"github.com/chatline/gateway/internal/testhelpers"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type apiFixture struct {
	e      *echo.Echo
	bus    *events.Bus
	issuer *auth.Issuer
	store  *repository.SQLiteStore
	alice  domain.User
	bob    domain.User
	carol  domain.User
	conv   domain.Conversation
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := testhelpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(testSecret, "HS256")
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(testSecret, "HS256")
	require.NoError(t, err)

	f := &apiFixture{e: echo.New(), bus: events.NewBus(8, nil), issuer: issuer, store: store}
	svc := service.New(store, engine, f.bus.From("api"), zap.NewNop())
	NewHandler(svc, verifier).RegisterRoutes(f.e)

	f.alice = testhelpers.SeedUser(t, store, "Alice", "alice@example.com")
	f.bob = testhelpers.SeedUser(t, store, "Bob", "bob@example.com")
	f.carol = testhelpers.SeedUser(t, store, "Carol", "carol@example.com")
	f.conv = testhelpers.SeedConversation(t, store, f.alice, f.bob)
	return f
}

func (f *apiFixture) do(t *testing.T, as *domain.User, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if as != nil {
		token, _, err := f.issuer.Issue(as.ID, as.Email, time.Hour)
		require.NoError(t, err)
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, r)
	return rec
}

func TestCreateMessage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, &f.alice, http.MethodPost, "/v1/messages",
		`{"conversationId":`+itoa(f.conv.ID)+`,"content":"hello bob"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, f.alice.ID, msg.Author.ID)

	evt := <-f.bus.Events()
	assert.Equal(t, msg.ID, evt.ID)
	assert.Equal(t, f.bob.ID, evt.OtherParty())
}

func TestCreateMessageErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		as     *domain.User
		body   string
		status int
	}{
		{name: "no token", as: nil, body: `{"conversationId":1,"content":"x"}`, status: http.StatusUnauthorized},
		{name: "bad json", as: &f.alice, body: `{"conversationId":`, status: http.StatusBadRequest},
		{name: "empty content", as: &f.alice, body: `{"conversationId":` + itoa(f.conv.ID) + `,"content":""}`, status: http.StatusBadRequest},
		{name: "unknown conversation", as: &f.alice, body: `{"conversationId":999,"content":"x"}`, status: http.StatusNotFound},
		{name: "not a participant", as: &f.carol, body: `{"conversationId":` + itoa(f.conv.ID) + `,"content":"x"}`, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.as, http.MethodPost, "/v1/messages", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetMessages(t *testing.T) {
	f := newAPIFixture(t)
	for _, body := range []string{"one", "two", "three"} {
		rec := f.do(t, &f.bob, http.MethodPost, "/v1/messages",
			`{"conversationId":`+itoa(f.conv.ID)+`,"content":"`+body+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, &f.alice, http.MethodGet, "/v1/messages/"+itoa(f.conv.ID)+"?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []domain.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "three", resp.Messages[0].Content)
	assert.True(t, resp.HasMore)

	rec = f.do(t, &f.alice, http.MethodGet, "/v1/messages/"+itoa(f.conv.ID)+"?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 3)
	assert.False(t, resp.HasMore)

	rec = f.do(t, &f.carol, http.MethodGet, "/v1/messages/"+itoa(f.conv.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, &f.alice, http.MethodGet, "/v1/messages/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessages_HasMore_Follows_Served_Page(t *testing.T) {
	f := newAPIFixture(t)
	for i := 0; i < 201; i++ {
		msg := &domain.Message{ConversationID: f.conv.ID, Author: f.alice, Content: "m"}
		require.NoError(t, f.store.AppendMessage(context.Background(), msg))
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "limit above maximum", query: "?limit=500", want: 200},
		{name: "negative limit", query: "?limit=-1", want: 50},
		{name: "no limit", query: "", want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, &f.bob, http.MethodGet, "/v1/messages/"+itoa(f.conv.ID)+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				Messages []domain.Message `json:"messages"`
				HasMore  bool             `json:"has_more"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Len(t, resp.Messages, tt.want)
			assert.True(t, resp.HasMore)
		})
	}
}

func TestUpdateMessage(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, &f.alice, http.MethodPost, "/v1/messages",
		`{"conversationId":`+itoa(f.conv.ID)+`,"content":"helo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))

	rec = f.do(t, &f.alice, http.MethodPatch, "/v1/messages", `{"messageId":`+itoa(msg.ID)+`,"content":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"content":"hello"`)

	rec = f.do(t, &f.bob, http.MethodPatch, "/v1/messages", `{"messageId":`+itoa(msg.ID)+`,"content":"mine now"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, &f.alice, http.MethodPatch, "/v1/messages", `{"content":"no id"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, &f.alice, http.MethodPatch, "/v1/messages", `{"messageId":999,"content":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersAndConversations(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, &f.alice, http.MethodGet, "/v1/users/"+itoa(f.bob.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"firstName":"Bob"`)

	rec = f.do(t, &f.alice, http.MethodGet, "/v1/users/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, &f.alice, http.MethodPost, "/v1/conversations", `{"recipientId":`+itoa(f.carol.ID)+`}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, &f.carol, http.MethodPost, "/v1/conversations", `{"recipientId":`+itoa(f.alice.ID)+`}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, &f.alice, http.MethodPost, "/v1/conversations", `{"recipientId":999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndGetConversations(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, &f.carol, http.MethodPost, "/v1/conversations", `{"recipientId":`+itoa(f.alice.ID)+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// A reconnecting client finds its conversation ids
	rec = f.do(t, &f.alice, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Conversations, 2)

	rec = f.do(t, &f.bob, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, f.conv.ID, list.Conversations[0].ID)

	rec = f.do(t, &f.bob, http.MethodGet, "/v1/conversations/"+itoa(f.conv.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, &f.carol, http.MethodGet, "/v1/conversations/"+itoa(f.conv.ID), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, &f.alice, http.MethodGet, "/v1/conversations/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, &f.alice, http.MethodGet, "/v1/conversations/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, nil, http.MethodGet, "/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, nil, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
