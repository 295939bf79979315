package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/confera/mesh/internal/adapters/signal"
	"github.com/confera/mesh/internal/config"
)

// ClientTokenMiddleware gives every browser a stable token cookie. The
// token survives reconnects; the relay handle deliberately does not.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires HTTP routes with the relay controller.
// Meeting CRUD and full authentication live outside this service; the
// router only carries the session/identity boundary, health, metrics,
// static assets and the WS upgrade.
func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConferaSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware(cfg.Secret))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/api/ws/relay", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("identity", c.GetString(identityNameKey)).Msg("ws relay endpoint hit")
		ctl.HandleRelay(ctx, c)
	})

	return r
}
