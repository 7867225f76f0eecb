package http

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/dkeye/one2many/internal/adapters/signal"
	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/config"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags every browser with a long-lived token kept in
// the signed session cookie. It is only used to correlate log lines across
// reconnects.
func ClientTokenMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get("client_token").(string)
		if token == "" {
			token = genClientToken()
			session.Set("client_token", token)
			session.Options(sessions.Options{
				Path:     "/",
				MaxAge:   3600 * 24 * 7,
				Secure:   secure,
				HttpOnly: true,
			})
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type presentersResponse struct {
	Presenters []domain.PresenterInfo `json:"presenters"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *signal.SignalWSController, registry *app.Registry, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("One2ManySessions", store))
	r.Use(ClientTokenMiddleware(cfg.TLS.Enabled()))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("signal", cfg.Signal.Path).Msg("router setup")

	r.GET(cfg.Signal.Path, func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")
	api.GET("/presenters", func(c *gin.Context) {
		c.JSON(http.StatusOK, presentersResponse{Presenters: registry.Presenters()})
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
