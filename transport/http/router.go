package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/internal/metrics"
	"github.com/layer-3/keyward/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// RouterConfig holds transport settings
type RouterConfig struct {
	ClientOrigin  string
	SecureCookies bool
}

// Services are the application services exposed over HTTP
type Services struct {
	Auth     *service.AuthService
	Sessions *service.SessionService
	Mint     *service.MintService
}

// SetupRouter builds the HTTP handler, wrapped in CORS for the web origin
func SetupRouter(cfg RouterConfig, svc Services, logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger, m))

	authHandlers := NewAuthHandlers(svc.Auth, cfg.SecureCookies, logger)
	sessionHandlers := NewSessionHandlers(svc.Sessions, logger)
	actionHandlers := NewActionHandlers(svc.Mint, logger)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "keyward is running"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/challenge", authHandlers.Challenge)
		api.POST("/login", authHandlers.Login)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(AuthMiddleware(svc.Auth, logger))
	{
		protected.POST("/logout", authHandlers.Logout)
		protected.GET("/me", authHandlers.Me)

		session := protected.Group("/session")
		session.GET("/", sessionHandlers.GetOrCreate)
		session.POST("/create", sessionHandlers.Create)
		session.POST("/confirm", sessionHandlers.Confirm)
		session.GET("/status", sessionHandlers.Status)

		actions := protected.Group("/actions")
		actions.Use(SessionMiddleware(svc.Sessions, logger))
		actions.POST("/mint", actionHandlers.Mint)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.ClientOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}
