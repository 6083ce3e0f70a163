package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"staybook/internal/infra/config"
	"staybook/internal/infra/obs"
)

type GuestHTTP interface {
	Quote(c *gin.Context)
	Request(c *gin.Context)
	Lookup(c *gin.Context)
	Cancel(c *gin.Context)
}

type HostHTTP interface {
	List(c *gin.Context)
	Approve(c *gin.Context)
	Decline(c *gin.Context)
	SettleBalance(c *gin.Context)
	RecordDeposit(c *gin.Context)
	Complete(c *gin.Context)
	Cancel(c *gin.Context)
	Calendar(c *gin.Context)
	DeactivateCredential(c *gin.Context)
}

type Handlers struct {
	Guest          GuestHTTP
	Host           HostHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the engine without binding an address.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Guest != nil {
		api.GET("/properties/:id/quote", h.Guest.Quote)
		api.POST("/bookings", h.Guest.Request)
		api.GET("/bookings/:code", h.Guest.Lookup)
		api.POST("/bookings/:code/cancel", h.Guest.Cancel)
	}
	if h.Host != nil {
		host := api.Group("/host")
		host.GET("/bookings", h.Host.List)
		host.POST("/bookings/:id/approve", h.Host.Approve)
		host.POST("/bookings/:id/decline", h.Host.Decline)
		host.POST("/bookings/:id/balance", h.Host.SettleBalance)
		host.POST("/bookings/:id/deposit", h.Host.RecordDeposit)
		host.POST("/bookings/:id/complete", h.Host.Complete)
		host.POST("/bookings/:id/cancel", h.Host.Cancel)
		host.GET("/properties/:id/calendar", h.Host.Calendar)
		host.POST("/credentials/:id/deactivate", h.Host.DeactivateCredential)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
