// Package server is the HTTP edge: the webhook intake endpoint, a small
// read/ops API over subscriptions and credits, and the health and metrics
// surfaces.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimbuspay/nimbus/internal/config"
	ledgerdomain "github.com/nimbuspay/nimbus/internal/ledger/domain"
	"github.com/nimbuspay/nimbus/internal/monitor"
	paymentdomain "github.com/nimbuspay/nimbus/internal/payment/domain"
	subscriptiondomain "github.com/nimbuspay/nimbus/internal/subscription/domain"
	webhookdomain "github.com/nimbuspay/nimbus/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	db              *gorm.DB
	dispatcher      webhookdomain.Service
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	paymentRepo     paymentdomain.Repository
	monitor         *monitor.Monitor
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	DB              *gorm.DB
	Dispatcher      webhookdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	PaymentRepo     paymentdomain.Repository
	Monitor         *monitor.Monitor `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		db:              p.DB,
		dispatcher:      p.Dispatcher,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		paymentRepo:     p.PaymentRepo,
		monitor:         p.Monitor,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerHealthRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/v1/webhooks/payments", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	tenants := v1.Group("/tenants/:tenant_id")
	{
		tenants.GET("/subscription", s.GetSubscription)
		tenants.POST("/subscription/plan", s.ChangePlan)
		tenants.POST("/subscription/cancel", s.CancelSubscription)
		tenants.GET("/credits", s.GetCreditBalance)
		tenants.POST("/credits/consume", s.ConsumeCredits)
		tenants.GET("/payments", s.ListPayments)
	}
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/healthz", s.Healthz)
}

func (s *Server) Healthz(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"monitor": s.monitor.Health(),
	})
}
