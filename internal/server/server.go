// Package server exposes the credit core over a thin gin surface.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumilearn/creditcore/internal/config"
	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
	insightdomain "github.com/lumilearn/creditcore/internal/insight/domain"
	"github.com/lumilearn/creditcore/internal/observability/logger"
	"github.com/lumilearn/creditcore/internal/observability/tracing"
	"github.com/lumilearn/creditcore/internal/ratelimit"
)

type ServerParam struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Credits  creditdomain.Service
	Limiter  *ratelimit.Limiter
	Insights insightdomain.Service
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	credits  creditdomain.Service
	limiter  *ratelimit.Limiter
	insights insightdomain.Service
}

func NewServer(p ServerParam) *Server {
	return &Server{
		cfg:      p.Config,
		log:      p.Log.Named("server"),
		credits:  p.Credits,
		limiter:  p.Limiter,
		insights: p.Insights,
	}
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware())
	engine.Use(tracing.GinMiddleware())
	engine.Use(ErrorHandlingMiddleware())
	return engine
}

// RegisterRoutes mounts the API surface.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	{
		v1.GET("/credits", s.GetCredits)
		v1.POST("/credits/check", s.CheckCanSpend)
		v1.POST("/credits/deduct", s.DeductCredits)
		v1.POST("/credits/settle", s.SettleCredits)

		v1.GET("/models/:model/ratelimit", s.RateLimitStatus)
		v1.POST("/models/:model/ratelimit/check", s.RateLimitCheck)

		v1.GET("/insights/:subject", s.GetCachedInsights)
		v1.POST("/insights/:subject", s.GenerateInsights)
	}
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, engine *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server, engine *gin.Engine) {
		s.RegisterRoutes(engine)
	}),
	fx.Invoke(RunHTTP),
)
