package router

import (
	"net/http"
	"time"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/handler"
	"github.com/fieldday/fieldday-backend/internal/middleware"
	"github.com/fieldday/fieldday-backend/internal/response"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth           *handler.AuthHandler
	Catalog        *handler.CatalogHandler
	Child          *handler.ChildHandler
	Checkout       *handler.CheckoutHandler
	PaymentWebhook *handler.PaymentWebhookHandler
	WS             *handler.WSHandler
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

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 0. Public Catalog (No Auth, Cacheable) ────────────────────────
	catalog := router.Group("/api/v1/catalog")
	catalog.Use(middleware.CacheControl(60))
	{
		catalog.GET("/offerings", handlers.Catalog.ListOfferings)
		catalog.GET("/offerings/:offering_id", handlers.Catalog.GetOffering)
	}

	// ─── 1. Payment Gateway Webhook (Signature Auth) ───────────────────
	router.POST("/api/v1/payments/notify", handlers.PaymentWebhook.Notify)

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 2. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/parent/login", handlers.Auth.ParentLogin)

		// Authenticated profile routes
		auth.POST("/parent/logout", middleware.RequireParentJWT(authService), handlers.Auth.ParentLogout)
		auth.GET("/parent/me", middleware.RequireParentJWT(authService), handlers.Auth.GetParentProfile)
	}

	// ─── 3. Parent Group (JWT) ─────────────────────────────────────────
	parentAPI := router.Group("/api/v1/parent")
	parentAPI.Use(middleware.RequireParentJWT(authService))
	{
		parentAPI.GET("/children", handlers.Child.ListChildren)
		parentAPI.POST("/children", handlers.Child.CreateChild)
		parentAPI.GET("/waitlist", handlers.Catalog.ListWaitlistEntries)

		checkouts := parentAPI.Group("/checkouts")
		{
			checkouts.POST("", handlers.Checkout.InitializeCheckout)
			checkouts.GET("/:checkout_id", handlers.Checkout.GetCheckout)
			checkouts.POST("/:checkout_id/children/:child_id/toggle", handlers.Checkout.ToggleChild)
			checkouts.POST("/:checkout_id/waivers/sign", handlers.Checkout.SignWaivers)
			checkouts.POST("/:checkout_id/payment-method", handlers.Checkout.SelectPaymentMethod)
			checkouts.POST("/:checkout_id/installment-plan", handlers.Checkout.SelectInstallmentPlan)
			checkouts.POST("/:checkout_id/fees/toggle", handlers.Checkout.ToggleFee)
			checkouts.POST("/:checkout_id/discount", handlers.Checkout.ApplyDiscount)
			checkouts.DELETE("/:checkout_id/discount", handlers.Checkout.RemoveDiscount)
			checkouts.GET("/:checkout_id/preview", handlers.Checkout.GetPreview)
			checkouts.POST("/:checkout_id/order", handlers.Checkout.CreateOrder)
			checkouts.GET("/:checkout_id/payment/return", handlers.Checkout.PaymentReturn)
			checkouts.POST("/:checkout_id/payment/cancel", handlers.Checkout.CancelPayment)
			checkouts.POST("/:checkout_id/retry", handlers.Checkout.RetryCheckout)
			checkouts.POST("/:checkout_id/waitlist", handlers.Checkout.JoinWaitlist)
			checkouts.GET("/:checkout_id/receipt", handlers.Checkout.GetReceipt)
		}
	}

	// ─── 4. WebSocket Group (Parent WS Auth) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireParentWSAuth(authService))
	{
		ws.GET("/parent/checkouts/:checkout_id/stream", handlers.WS.CheckoutStream)
	}

	return router
}
