package server

import (
	"context"
	"net/http"
	"time"

	"github.com/divetrail/concierge/internal/config"
	"github.com/divetrail/concierge/internal/observability/tracing"
	quotadomain "github.com/divetrail/concierge/internal/quota/domain"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	TicketSvc ticketdomain.Service
	QuotaSvc  quotadomain.Service
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	ticketSvc ticketdomain.Service
	quotaSvc  quotadomain.Service
}

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("server"),
		ticketSvc: p.TicketSvc,
		quotaSvc:  p.QuotaSvc,
	}
}

// RegisterRoutes mounts the quota facade and the grant endpoints.
func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	// Grant endpoints are called by trusted backend workflows (approved
	// proposals, support tooling) and carry the owner explicitly.
	grants := v1.Group("/tickets")
	grants.POST("/contribution", s.GrantContribution)
	grants.POST("/manual", s.GrantManual)

	// Session endpoints act on the authenticated owner.
	session := v1.Group("")
	session.Use(SessionOwnerMiddleware())
	session.POST("/tickets/daily", s.GrantDaily)
	session.GET("/quota", s.GetQuota)
	session.POST("/quota/sync", s.SyncQuota)
	session.POST("/chat/ask", s.Ask)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
