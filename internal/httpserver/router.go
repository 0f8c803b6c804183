package httpserver

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
	"shop-backend/internal/domain"
	authsvc "shop-backend/internal/service/auth"
	cartsvc "shop-backend/internal/service/cart"
	"shop-backend/internal/service/checkout"
)

type authService interface {
	Register(ctx context.Context, in authsvc.RegisterInput) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	LookupByToken(ctx context.Context, token string) (*domain.User, error)
}

type productService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
}

type cartService interface {
	Get(ctx context.Context, buyerID string) (*domain.Cart, error)
	Count(ctx context.Context, buyerID string) (int, error)
	Add(ctx context.Context, buyerID string, in cartsvc.AddInput) (*domain.Cart, error)
	Remove(ctx context.Context, buyerID, productID string) (*domain.Cart, error)
}

type checkoutService interface {
	Initiate(ctx context.Context, provider, buyerID string) (*checkout.InitiateResult, error)
	HandleWebhook(ctx context.Context, provider string, n checkout.Notification)
	ConfirmRedirect(ctx context.Context, provider, buyerID string, params url.Values) (*checkout.Confirmation, error)
	ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error)
}

// Deps groups the services the router needs.
type Deps struct {
	AuthSvc     authService
	ProductSvc  productService
	CartSvc     cartService
	CheckoutSvc checkoutService

	// FrontendURL is the only browser origin allowed by CORS.
	FrontendURL   string
	CheckoutRate  rate.Limit
	CheckoutBurst int
}

// buildRouter wires routes for the API.
func buildRouter(logger *log.Logger, db *pgxpool.Pool, deps Deps) (*gin.Engine, error) {
	if deps.AuthSvc == nil || deps.ProductSvc == nil || deps.CartSvc == nil || deps.CheckoutSvc == nil {
		return nil, errors.New("httpserver: all services are required")
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(requestID(), gin.LoggerWithWriter(logger.Writer()), gin.Recovery())
	if deps.FrontendURL != "" {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     []string{deps.FrontendURL},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "x-auth-token", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))

	h := &handlers{logger: logger, deps: deps}
	requireUser := authMiddleware(deps.AuthSvc)
	limitCheckout := rateLimitMiddleware(newBuyerLimiter(deps.CheckoutRate, deps.CheckoutBurst))

	authGroup := router.Group("/auth")
	authGroup.POST("/register", h.register)
	authGroup.POST("/login", h.login)
	authGroup.GET("/me", requireUser, h.me)

	router.GET("/products", h.listProducts)
	router.GET("/products/:id", h.getProduct)

	cartGroup := router.Group("/cart", requireUser)
	cartGroup.GET("", h.getCart)
	cartGroup.GET("/total", h.countCart)
	cartGroup.POST("/add", h.addToCart)
	cartGroup.DELETE("/remove/:productId", h.removeFromCart)

	orders := router.Group("/orders")
	orders.GET("", requireUser, h.listOrders)
	orders.GET("/mercadopago/test-cards", h.testCards)
	orders.POST("/:provider/initiate", requireUser, limitCheckout, h.initiate)
	orders.POST("/:provider/webhook", h.webhook)
	orders.GET("/:provider/confirm", requireUser, h.confirm)
	orders.POST("/:provider/confirm", requireUser, h.confirm)

	return router, nil
}

type handlers struct {
	logger *log.Logger
	deps   Deps
}
