package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/examflow/internal/auth"
	"github.com/stemsi/examflow/internal/config"
	"github.com/stemsi/examflow/internal/handler"
	"github.com/stemsi/examflow/internal/middleware"
	"github.com/stemsi/examflow/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	verifier *auth.Verifier,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session creation (10 requests per minute per IP);
	// repeated start attempts abandon the previous session, so throttle them.
	startLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(verifier))
	{
		studentAPI.POST("/exams/:exam_id/sessions", startLimiter.Middleware(), handlers.Session.StartSession)
		studentAPI.GET("/sessions/current", handlers.Session.GetState)
		studentAPI.PUT("/sessions/current/answers/:question_id", handlers.Session.SaveAnswer)
		studentAPI.POST("/sessions/current/navigation", handlers.Session.Navigate)
		studentAPI.POST("/sessions/current/submit", handlers.Session.Submit)
		studentAPI.POST("/sessions/current/submit/retry", handlers.Session.RetrySubmit)
		studentAPI.GET("/sessions/:session_id/result", handlers.Session.GetResult)
		studentAPI.GET("/sessions/:session_id/remaining", handlers.Session.GetRemainingTime)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(verifier))
	{
		ws.GET("/student/session/stream", handlers.WS.SessionStream)
	}

	return router
}
