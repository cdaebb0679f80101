package api

import (
	"log/slog"
	"net/http"

	"github.com/evetabi/snipe/internal/api/handler"
	"github.com/evetabi/snipe/internal/api/middleware"
	"github.com/evetabi/snipe/internal/config"
	"github.com/evetabi/snipe/internal/service"
	"github.com/evetabi/snipe/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc      *service.AuthService
	SnipeSvc     *service.SnipeService
	GroupSvc     *service.GroupService
	ReconcileSvc *service.ReconcileService
	Hub          *ws.Hub
	RateLimiter  *middleware.RateLimiter
	Metrics      http.Handler // nil = /metrics not exposed
	Cfg          *config.Config
	Logger       *slog.Logger
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rl := deps.RateLimiter
	if rl == nil {
		rl = middleware.NewRateLimiter(deps.Cfg.Server.RateLimitRPS)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(logger.With("component", "http")))
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Metrics ──────────────────────────────────────────────────────────────
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	auctionH := handler.NewAuctionHandler(deps.SnipeSvc)
	groupH := handler.NewGroupHandler(deps.GroupSvc)
	tickH := handler.NewTickHandler(deps.ReconcileSvc, logger)

	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)
	rateMW := rl.Middleware()

	api := r.Group("/api")
	api.Use(jwtMW)
	{
		api.GET("/stats", auctionH.Stats)

		auctions := api.Group("/auctions")
		{
			auctions.GET("", auctionH.List)
			auctions.GET("/:id", auctionH.GetByID)
			auctions.GET("/:id/log", auctionH.GetLog)

			auctions.POST("", rateMW, auctionH.Place)
			auctions.POST("/purge", rateMW, auctionH.Purge)
			auctions.PATCH("/:id/group", rateMW, auctionH.AssignGroup)
			auctions.DELETE("/:id", rateMW, auctionH.Delete)
		}

		groups := api.Group("/groups")
		{
			groups.GET("", groupH.List)
			groups.GET("/:id", groupH.GetByID)

			groups.POST("", rateMW, groupH.Create)
			groups.PATCH("/:id", rateMW, groupH.UpdateNotes)
			groups.DELETE("/:id", rateMW, groupH.Delete)
		}

		api.POST("/tick", rateMW, tickH.Tick)
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets CORS headers. In
// development all origins are allowed; in production only the configured
// WS_ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
