package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Presence/internal/adapters/signal"
	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/metrics"
	transport "github.com/dkeye/Presence/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Authenticated resolves the caller through the orchestrator's verifier
// and stores the identity on the gin context.
func Authenticated(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := o.Authenticate(signal.Credential(c), orch.ConnMeta{Remote: c.ClientIP(), Agent: c.Request.UserAgent()})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed", "code": "AUTHENTICATION_FAILED"})
			return
		}
		c.Set(transport.IdentityKey, id)
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get(transport.IdentityKey)
		if id, ok := v.(interface{ IsAdmin() bool }); !ok || !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

type sessionRequest struct {
	Token string `json:"token" binding:"required"`
}

func openSession(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is required", "code": "MISSING_FIELD"})
			return
		}
		id, err := o.Authenticate(req.Token, orch.ConnMeta{Remote: c.ClientIP(), Agent: c.Request.UserAgent()})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed", "code": "AUTHENTICATION_FAILED"})
			return
		}
		s := sessions.Default(c)
		s.Set(signal.SessionTokenKey, req.Token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session not saved"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": id.ID, "role": id.Role})
	}
}

func closeSession(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, m *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if m != nil {
		r.Use(m.Middleware())
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("PresenceSessions", store))

	h := transport.NewHandlers(o)
	r.GET("/healthz", h.Health)
	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.POST("/session", openSession(o))
	api.DELETE("/session", closeSession)

	ctrl := signal.NewSignalWSController(o, cfg)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	authed := api.Group("", Authenticated(o))
	authed.GET("/presence", h.ListPresence)
	authed.GET("/presence/:userId", h.GetPresence)
	authed.GET("/calls", h.ListCalls)

	admin := authed.Group("", AdminOnly())
	admin.POST("/calls/:callId/end", h.EndCall)
	admin.POST("/notify/:userId", h.Notify)

	return r
}
