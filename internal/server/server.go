package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	balancedomain "github.com/smallbiznis/checkout/internal/balance/domain"
	"github.com/smallbiznis/checkout/internal/config"
	coupondomain "github.com/smallbiznis/checkout/internal/coupon/domain"
	obstracing "github.com/smallbiznis/checkout/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/checkout/internal/order/domain"
	productdomain "github.com/smallbiznis/checkout/internal/product/domain"
	"github.com/smallbiznis/checkout/internal/ratelimit"
	userdomain "github.com/smallbiznis/checkout/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obstracing.GinMiddleware())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine     *gin.Engine
	userSvc    userdomain.Service
	balanceSvc balancedomain.Service
	productSvc productdomain.Service
	couponSvc  coupondomain.Service
	orderSvc   orderdomain.Service
	limiter    *ratelimit.Limiter
	log        *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	UserSvc    userdomain.Service
	BalanceSvc balancedomain.Service
	ProductSvc productdomain.Service
	CouponSvc  coupondomain.Service
	OrderSvc   orderdomain.Service
	Limiter    *ratelimit.Limiter `optional:"true"`
	Log        *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		userSvc:    p.UserSvc,
		balanceSvc: p.BalanceSvc,
		productSvc: p.ProductSvc,
		couponSvc:  p.CouponSvc,
		orderSvc:   p.OrderSvc,
		limiter:    p.Limiter,
		log:        p.Log.Named("http.ratelimit"),
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.POST("/users", s.CreateUser)
	api.GET("/users/:user_id", s.GetUser)
	api.GET("/users/:user_id/coupons", s.ListUserCoupons)
	api.GET("/users/:user_id/orders", s.ListUserOrders)

	api.POST("/balances/:user_id/charge", s.ChargeBalance)
	api.GET("/balances/:user_id", s.GetBalance)

	api.POST("/products", s.CreateProduct)
	api.GET("/products", s.ListProducts)
	api.GET("/products/popular", s.PopularProducts)
	api.GET("/products/:product_id", s.GetProductByID)
	api.PATCH("/products/:product_id", s.UpdateProduct)
	api.DELETE("/products/:product_id", s.DeleteProduct)
	api.GET("/products/:product_id/stock", s.GetProductStock)

	api.POST("/coupons", s.CreateCoupon)
	api.GET("/coupons/:coupon_id", s.GetCoupon)
	api.POST("/coupons/:coupon_id/issue", s.throttle("coupon_issue"), s.IssueCoupon)

	api.POST("/orders", s.throttle("order_create"), s.CreateOrder)
	api.GET("/orders/:order_id", s.GetOrder)
	api.POST("/orders/:order_id/pay", s.throttle("order_pay"), s.PayOrder)
	api.POST("/orders/:order_id/cancel", s.CancelOrder)
}

func (s *Server) throttle(scope string) gin.HandlerFunc {
	return RateLimit(s.limiter, scope, s.log)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
