package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/canfieldjuan/finetunelab.ai-sub013/models"
	"github.com/canfieldjuan/finetunelab.ai-sub013/repository"
)

const (
	// AgentIDHeader carries the caller-chosen agent identifier.
	AgentIDHeader = "X-Agent-ID"

	agentIDPrefix = "agent_"
	agentIDMinLen = 10 // "agent_" plus at least 4 more characters
	trainingScope = repository.TrainingScope

	// Context keys
	UserIDKey  = "user-id"
	AgentIDKey = "agent-id"
)

// CredentialStore resolves bearer credentials to user identities.
// *repository.Repository satisfies it; tests substitute fakes.
type CredentialStore interface {
	AuthenticateAPIKey(rawKey, requiredScope string) (string, error)
	AuthenticateSession(token string) (string, error)
}

// AgentAuth validates the agent-facing endpoints: a bearer credential (API
// key with the training scope, or a session token) plus a well-formed
// X-Agent-ID header. The credential is checked first, so an unauthenticated
// caller sees 401 even when its agent id is also malformed. Pure validation:
// nothing is mutated.
func AgentAuth(store CredentialStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := authenticate(c, store, trainingScope)
		if !ok {
			return
		}

		agentID := c.GetHeader(AgentIDHeader)
		if !ValidAgentID(agentID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "X-Agent-ID must start with \"agent_\" followed by at least 4 characters",
				"code":  models.CodeBadRequest,
			})
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(AgentIDKey, agentID)
		c.Next()
	}
}

// UserAuth validates the human-facing approval endpoints: any valid bearer
// credential (session token or API key, no scope requirement).
func UserAuth(store CredentialStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := authenticate(c, store, "")
		if !ok {
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func authenticate(c *gin.Context, store CredentialStore, scope string) (string, bool) {
	bearer, ok := parseBearer(c.GetHeader("Authorization"))
	if !ok {
		abortUnauthorized(c, "missing or malformed Authorization header")
		return "", false
	}

	var userID string
	var err error
	if strings.HasPrefix(bearer, repository.APIKeyPrefix) {
		userID, err = store.AuthenticateAPIKey(bearer, scope)
	} else {
		userID, err = store.AuthenticateSession(bearer)
	}
	if errors.Is(err, repository.ErrNotFound) {
		abortUnauthorized(c, "invalid credential")
		return "", false
	}
	if err != nil {
		logrus.WithError(err).Error("Credential lookup failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to validate credential",
			"code":  models.CodeInternalError,
		})
		return "", false
	}
	return userID, true
}

func parseBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"code":  models.CodeUnauthorized,
	})
}

// ValidAgentID reports whether an agent identifier has the required shape:
// the "agent_" prefix followed by at least 4 more characters.
func ValidAgentID(id string) bool {
	return strings.HasPrefix(id, agentIDPrefix) && len(id) >= agentIDMinLen
}

// GetUserID retrieves the authenticated user id from the Gin context
func GetUserID(c *gin.Context) string {
	id, exists := c.Get(UserIDKey)
	if !exists {
		return ""
	}
	return id.(string)
}

// GetAgentID retrieves the validated agent id from the Gin context
func GetAgentID(c *gin.Context) string {
	id, exists := c.Get(AgentIDKey)
	if !exists {
		return ""
	}
	return id.(string)
}

// CORSMiddleware handles CORS for the web frontend
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, "+
				"Authorization, accept, origin, Cache-Control, X-Requested-With, "+
				AgentIDHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods",
			"POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
