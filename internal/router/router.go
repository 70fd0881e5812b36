package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/handler"
	"github.com/oaib/exam-engine/internal/middleware"
	"github.com/oaib/exam-engine/internal/response"
	"github.com/oaib/exam-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Result  *handler.ResultHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
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

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session allocation (10 starts per minute per IP).
	// Answer submission stays unthrottled; a candidate revising quickly is
	// normal traffic.
	startLimiter := middleware.NewRateLimiter(10, time.Minute)

	// ─── 1. Candidate Group (JWT) ──────────────────────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(middleware.RequireCandidateJWT(authService))
	{
		candidateAPI.POST("/exams/:exam_id/start", startLimiter.Middleware(), handlers.Session.Start)
		candidateAPI.GET("/sessions/:session_id", handlers.Session.Get)
		candidateAPI.POST("/sessions/:session_id/answers", handlers.Session.SubmitAnswer)
		candidateAPI.POST("/sessions/:session_id/finish", handlers.Session.Finish)
		candidateAPI.POST("/sessions/:session_id/abandon", handlers.Session.Abandon)
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/sessions", handlers.Result.ListSessions)
		adminAPI.GET("/sessions/:session_id", handlers.Result.GetSession)
		adminAPI.GET("/exams/:exam_id/leaderboard", handlers.Result.Leaderboard)
		adminAPI.GET("/exams/:exam_id/stats", handlers.Result.Stats)
	}

	return router
}
