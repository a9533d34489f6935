package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canfieldjuan/finetunelab.ai-sub013/repository"
)

type fakeCreds struct {
	apiKeys  map[string]string // raw key -> user id (training scope)
	sessions map[string]string // token -> user id
}

func (f *fakeCreds) AuthenticateAPIKey(rawKey, requiredScope string) (string, error) {
	if user, ok := f.apiKeys[rawKey]; ok {
		return user, nil
	}
	return "", repository.ErrNotFound
}

func (f *fakeCreds) AuthenticateSession(token string) (string, error) {
	if user, ok := f.sessions[token]; ok {
		return user, nil
	}
	return "", repository.ErrNotFound
}

func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userId":  GetUserID(c),
			"agentId": GetAgentID(c),
		})
	})
	return router
}

func probe(router *gin.Engine, authorization, agentID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if agentID != "" {
		req.Header.Set(AgentIDHeader, agentID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAgentAuth(t *testing.T) {
	creds := &fakeCreds{
		apiKeys:  map[string]string{"ftl_goodkey": "user-a"},
		sessions: map[string]string{"sess_good": "user-b"},
	}
	router := newAuthRouter(AgentAuth(creds))

	tests := []struct {
		name          string
		authorization string
		agentID       string
		wantStatus    int
	}{
		{"api key ok", "Bearer ftl_goodkey", "agent_w123", http.StatusOK},
		{"session ok", "Bearer sess_good", "agent_w123", http.StatusOK},
		{"missing credential", "", "agent_w123", http.StatusUnauthorized},
		{"malformed header", "ftl_goodkey", "agent_w123", http.StatusUnauthorized},
		{"wrong scheme", "Basic ftl_goodkey", "agent_w123", http.StatusUnauthorized},
		{"unknown key", "Bearer ftl_badkey", "agent_w123", http.StatusUnauthorized},
		{"unknown session", "Bearer sess_bad", "agent_w123", http.StatusUnauthorized},
		{"missing agent id", "Bearer ftl_goodkey", "", http.StatusBadRequest},
		{"agent id without prefix", "Bearer ftl_goodkey", "bad", http.StatusBadRequest},
		{"agent id too short", "Bearer ftl_goodkey", "agent_x", http.StatusBadRequest},
		// Credential is checked first: bad credential plus bad agent id is 401.
		{"both invalid", "Bearer ftl_badkey", "bad", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := probe(router, tt.authorization, tt.agentID)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAgentAuthSetsContext(t *testing.T) {
	creds := &fakeCreds{apiKeys: map[string]string{"ftl_goodkey": "user-a"}}
	router := newAuthRouter(AgentAuth(creds))

	w := probe(router, "Bearer ftl_goodkey", "agent_w123")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"user-a"`)
	assert.Contains(t, w.Body.String(), `"agentId":"agent_w123"`)
}

func TestUserAuth(t *testing.T) {
	creds := &fakeCreds{
		apiKeys:  map[string]string{"ftl_goodkey": "user-a"},
		sessions: map[string]string{"sess_good": "user-b"},
	}
	router := newAuthRouter(UserAuth(creds))

	// No agent id requirement on the human-facing surface.
	w := probe(router, "Bearer sess_good", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = probe(router, "Bearer sess_bad", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidAgentID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"agent_w123", true},
		{"agent_abcdef0123456789", true},
		{"agent_1234", true},
		{"agent_123", false}, // only 3 after the prefix
		{"agent_", false},
		{"worker_1234", false},
		{"", false},
		{"bad", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAgentID(tt.id), "id %q", tt.id)
	}
}
