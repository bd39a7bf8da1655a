package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/auth"
	"voice-bridge/backend/internal/constants"
	"voice-bridge/backend/internal/session"
	"voice-bridge/backend/internal/state"
	"voice-bridge/backend/internal/utils"
	"voice-bridge/backend/pkg/config"
)

const userIDKey = "user_id"

type server struct {
	cfg       *config.Config
	registry  *session.Registry
	validator *auth.Validator
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

func newServer(cfg *config.Config, registry *session.Registry, validator *auth.Validator, log *zap.Logger) *server {
	return &server{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (s *server) routes() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"active_sessions": s.registry.Count(),
		})
	})

	// Live sessions
	router.GET("/ws/voice", s.serveSession(""))
	router.GET("/ws/live", s.serveSession(constants.ModeLiveAnalysis))

	// API routes
	api := router.Group("/api", s.requireUser())
	{
		// Current user's live session
		api.GET("/sessions/me", func(c *gin.Context) {
			sess := s.registry.Lookup(c.GetString(userIDKey))
			if sess == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
				return
			}
			c.JSON(http.StatusOK, sess.Info())
		})

		// Stop the current user's live session
		api.DELETE("/sessions/me", func(c *gin.Context) {
			userID := c.GetString(userIDKey)
			if s.registry.Lookup(userID) == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
				return
			}
			s.registry.Release(userID)
			c.JSON(http.StatusOK, gin.H{"status": constants.StatusStopped})
		})
	}

	return router
}

// serveSession upgrades the request and hands the connection to the
// registry. An empty mode is taken from the "mode" query parameter.
func (s *server) serveSession(mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		var responseHeader http.Header
		if token == "" {
			// The token may arrive as the subprotocol, which is echoed back
			if proto := strings.TrimSpace(strings.Split(c.GetHeader("Sec-WebSocket-Protocol"), ",")[0]); proto != "" {
				token = proto
				responseHeader = http.Header{}
				responseHeader.Set("Sec-WebSocket-Protocol", proto)
			}
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, responseHeader)
		if err != nil {
			s.log.Warn("Websocket upgrade failed", zap.Error(err))
			return
		}

		userID, err := s.validator.UserID(token)
		if err != nil {
			s.log.Warn("Rejecting websocket client", zap.String("path", c.Request.URL.Path), zap.Error(err))
			session.Reject(conn, err, constants.ClientWriteTimeout)
			return
		}

		cfg := s.sessionConfig(c, mode)
		if _, err := s.registry.Acquire(c.Request.Context(), userID, conn, cfg); err != nil {
			s.log.Warn("Session admission failed",
				zap.String("user_id", userID),
				zap.String("mode", cfg.Mode),
				zap.Error(err),
			)
		}
	}
}

func (s *server) sessionConfig(c *gin.Context, mode string) state.SessionConfig {
	if mode == "" {
		mode = c.DefaultQuery("mode", constants.ModeChat)
	}

	cfg := state.SessionConfig{
		Voice:          c.Query("initialVoice"),
		Model:          c.Query("model"),
		Language:       utils.NormalizeLanguage(c.Query("language")),
		Mode:           mode,
		ConversationID: c.Query("conversationId"),
	}.WithDefaults(s.cfg.DefaultVoice, s.cfg.LiveModel, s.cfg.DefaultLanguage)

	if cfg.Mode == constants.ModeLiveAnalysis {
		cfg.SystemInstruction = constants.LiveAnalysisInstruction
	}
	cfg.EnableReport = cfg.Mode == constants.ModeLiveAnalysis || s.cfg.ReportsInChat
	return cfg
}

// requireUser authenticates REST calls with the same bearer tokens as websockets
func (s *server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := s.validator.UserID(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// Query strings may carry tokens and are not logged
		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
