package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IreinStark/marketgo/internal/config"
	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/httpserver"
	"github.com/IreinStark/marketgo/internal/relay"
	"github.com/IreinStark/marketgo/internal/security"
	"github.com/IreinStark/marketgo/internal/store/sqlite"
)

type apiFixture struct {
	t      *testing.T
	server *httptest.Server
	tokens *security.TokenService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	cfg := &config.Config{
		AppName:       "MarketGo Relay",
		JWTSecret:     "test-secret",
		PresenceGrace: time.Second,
		CORSOrigins:   []string{"http://localhost:3000"},
		GeoAPIBaseURL: "http://unused.invalid",
	}
	tokens := security.NewTokenService(cfg.JWTSecret, time.Hour)
	partRepo := sqlite.NewParticipantRepo(db)
	rl := relay.New(tokens, partRepo, cfg.PresenceGrace, nil)

	srv := httptest.NewServer(httpserver.NewRouter(cfg, db, rl, tokens))
	t.Cleanup(srv.Close)

	return &apiFixture{t: t, server: srv, tokens: tokens}
}

func (f *apiFixture) tokenFor(userID, name string) string {
	f.t.Helper()
	token, err := f.tokens.CreateForIdentity(domain.Identity{UserID: userID, DisplayName: name})
	require.NoError(f.t, err)
	return token
}

// do issues a request with an optional bearer token and decodes the JSON
// response into out when out is non-nil.
func (f *apiFixture) do(method, path, token string, body, out any) int {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(f.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]string
	status := f.do(http.MethodGet, "/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestConversationEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	status := f.do(http.MethodGet, "/api/conversations", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = f.do(http.MethodGet, "/api/conversations", "garbage-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.tokenFor("u1", "Alice")
	bob := f.tokenFor("u2", "Bob")

	// Alice opens a conversation with Bob about a listing.
	var conv domain.Conversation
	status := f.do(http.MethodPost, "/api/conversations", alice, map[string]any{
		"participantIds":   []string{"u2"},
		"participantNames": map[string]string{"u2": "Bob"},
		"productId":        "p1",
		"productTitle":     "Vintage bike",
	}, &conv)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, conv.ID)
	assert.Len(t, conv.Participants, 2)

	// Re-posting the same pair and product returns the same conversation.
	var again domain.Conversation
	status = f.do(http.MethodPost, "/api/conversations", alice, map[string]any{
		"participantIds": []string{"u2"},
		"productId":      "p1",
	}, &again)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, conv.ID, again.ID)

	// Alice sends a message.
	var msg domain.Message
	status = f.do(http.MethodPost, "/api/conversations/"+conv.ID+"/messages", alice, map[string]any{
		"content": "still available?",
	}, &msg)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, domain.MessageTypeText, msg.Type)

	// Bob lists his conversations and sees the preview and unread counter.
	var convs []domain.Conversation
	status = f.do(http.MethodGet, "/api/conversations", bob, nil, &convs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, convs, 1)
	assert.Equal(t, "still available?", convs[0].LastMessage)
	for _, p := range convs[0].Participants {
		if p.UserID == "u2" {
			assert.Equal(t, 1, p.UnreadCount)
		}
	}

	// Bob reads the conversation.
	var readResp struct {
		Status     string   `json:"status"`
		MessageIDs []string `json:"messageIds"`
	}
	status = f.do(http.MethodPost, "/api/conversations/"+conv.ID+"/read", bob, nil, &readResp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{msg.ID}, readResp.MessageIDs)

	var msgs []domain.Message
	status = f.do(http.MethodGet, "/api/conversations/"+conv.ID+"/messages", bob, nil, &msgs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestConversationAccessControl(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.tokenFor("u1", "Alice")
	mallory := f.tokenFor("u9", "Mallory")

	var conv domain.Conversation
	status := f.do(http.MethodPost, "/api/conversations", alice, map[string]any{
		"participantIds": []string{"u2"},
	}, &conv)
	require.Equal(t, http.StatusCreated, status)

	status = f.do(http.MethodGet, "/api/conversations/"+conv.ID, mallory, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = f.do(http.MethodGet, "/api/conversations/"+conv.ID+"/messages", mallory, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = f.do(http.MethodPost, "/api/conversations/"+conv.ID+"/messages", mallory, map[string]any{
		"content": "let me in",
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = f.do(http.MethodGet, "/api/conversations/does-not-exist", alice, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGeoEndpointAlwaysSucceeds(t *testing.T) {
	f := newAPIFixture(t)

	// no auth, no usable client address: still 200 with the sentinel
	var res struct {
		City    string `json:"city"`
		Nearest string `json:"nearest"`
	}
	status := f.do(http.MethodGet, "/api/geo", "", nil, &res)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "All Locations", res.City)

	// platform headers short-circuit the IP lookup
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/geo", nil)
	require.NoError(t, err)
	req.Header.Set("x-vercel-ip-latitude", "35.1856")
	req.Header.Set("x-vercel-ip-longitude", "33.3823")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "Nicosia", res.Nearest)
}

func TestPresenceEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.tokenFor("u1", "Alice")

	var online []relay.PresenceInfo
	status := f.do(http.MethodGet, "/api/presence", alice, nil, &online)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, online)
}
