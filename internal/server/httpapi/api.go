// Package httpapi exposes the reference backend's HTTP and WebSocket routes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/server/auth"
	"github.com/cyb3rh3ad/auradesk/internal/server/hub"
	"github.com/cyb3rh3ad/auradesk/internal/server/store"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// API wires the store, auth manager, and hub into a gin router.
type API struct {
	db   *store.DB
	auth *auth.Manager
	hub  *hub.Hub
	log  zerolog.Logger
}

// New creates the API.
func New(db *store.DB, authMgr *auth.Manager, h *hub.Hub, log zerolog.Logger) *API {
	return &API{db: db, auth: authMgr, hub: h, log: log}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.POST("/auth", a.handleAuth)

	authed := v1.Group("")
	authed.Use(a.authMiddleware())
	authed.GET("/topics/:topic/snapshot", a.handleSnapshot)
	authed.POST("/conversations/:id/messages", a.handleInsertMessage)
	authed.POST("/profiles/lookup", a.handleLookupProfiles)
	authed.GET("/ws", a.handleWS)

	return router
}

type authRequest struct {
	UserID      string `json:"userId" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	AvatarRef   string `json:"avatarRef"`
}

// handleAuth registers (or refreshes) a profile and issues a token. The
// reference backend has no real credential check; authentication proper is an
// external collaborator.
func (a *API) handleAuth(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile := wire.Profile{ID: req.UserID, DisplayName: req.DisplayName, AvatarRef: req.AvatarRef}
	if err := a.db.UpsertProfile(c.Request.Context(), profile); err != nil {
		a.log.Error().Err(err).Msg("upsert profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save profile"})
		return
	}

	token, err := a.auth.IssueToken(req.UserID)
	if err != nil {
		a.log.Error().Err(err).Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "userId": req.UserID})
}

func (a *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			// The browser WebSocket API cannot set headers; accept the
			// token as a query parameter on the ws route.
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			c.Abort()
			return
		}

		userID, err := a.auth.VerifyToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// handleSnapshot serves GET /v1/topics/:topic/snapshot?limit=N for messages
// topics.
func (a *API) handleSnapshot(c *gin.Context) {
	topic := wire.Topic(c.Param("topic"))
	if err := topic.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if topic.Kind() != wire.TopicMessages {
		// Ephemeral topics have no snapshot; their state lives in peers.
		c.JSON(http.StatusOK, gin.H{"messages": []wire.Message{}})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := a.db.SnapshotMessages(c.Request.Context(), topic.Scope(), limit)
	if err != nil {
		a.log.Error().Err(err).Str("topic", string(topic)).Msg("snapshot query")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
		return
	}
	if msgs == nil {
		msgs = []wire.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type insertMessageRequest struct {
	Content string `json:"content" binding:"required"`
	LocalID string `json:"localId"`
}

// handleInsertMessage serves POST /v1/conversations/:id/messages. The sender
// is the authenticated user; the server assigns the id and timestamp. A new
// row fans out to topic subscribers as an insert event.
func (a *API) handleInsertMessage(c *gin.Context) {
	conversationID := c.Param("id")
	userID := c.GetString("userID")

	var req insertMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UnixMilli()
	if err := a.db.EnsureConversation(ctx, conversationID, now); err != nil {
		a.log.Error().Err(err).Msg("ensure conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert failed"})
		return
	}

	msg, created, err := a.db.InsertMessage(ctx, conversationID, userID, req.Content, req.LocalID, now)
	if err != nil {
		a.log.Error().Err(err).Msg("insert message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "insert failed"})
		return
	}

	if created {
		payload, err := json.Marshal(msg)
		if err == nil {
			a.hub.PublishEvent(wire.Event{
				Topic:      wire.MessagesTopic(conversationID),
				Kind:       wire.EventInsert,
				Payload:    payload,
				ServerTime: msg.CreatedAt,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type lookupProfilesRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// handleLookupProfiles serves POST /v1/profiles/lookup.
func (a *API) handleLookupProfiles(c *gin.Context) {
	var req lookupProfilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	byID, err := a.db.GetProfiles(c.Request.Context(), req.IDs)
	if err != nil {
		a.log.Error().Err(err).Msg("lookup profiles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	profiles := make([]wire.Profile, 0, len(byID))
	for _, p := range byID {
		profiles = append(profiles, p)
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

// handleWS serves GET /v1/ws.
func (a *API) handleWS(c *gin.Context) {
	a.hub.HandleWS(c, c.GetString("userID"))
}
