package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"
	"shop-backend/internal/config"
	"shop-backend/internal/db"
	"shop-backend/internal/httpserver"
	"shop-backend/internal/payment"
	"shop-backend/internal/payment/mercadopago"
	"shop-backend/internal/payment/webpay"
	cartrepo "shop-backend/internal/repository/cart"
	intentrepo "shop-backend/internal/repository/intent"
	orderrepo "shop-backend/internal/repository/order"
	productrepo "shop-backend/internal/repository/product"
	userrepo "shop-backend/internal/repository/user"
	authsvc "shop-backend/internal/service/auth"
	cartsvc "shop-backend/internal/service/cart"
	"shop-backend/internal/service/checkout"
	productsvc "shop-backend/internal/service/product"
	"shop-backend/internal/service/reconcile"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect to db: %v", err)
	}
	defer dbpool.Close()

	productRepo := productrepo.NewPostgres(dbpool, logger)
	cartRepo := cartrepo.NewPostgres(dbpool)
	intentRepo := intentrepo.NewPostgres(dbpool, logger)
	orderRepo := orderrepo.NewPostgres(dbpool, logger)
	userRepo := userrepo.NewPostgres(dbpool, logger)

	authService := authsvc.New(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	productService := productsvc.New(productRepo)
	cartService := cartsvc.New(cartRepo, productRepo)

	digits := payment.FractionDigits(cfg.Currency)
	returnURL := cfg.FrontendURL + "/orders/confirm"
	providers := []payment.Provider{
		webpay.New(webpay.Config{
			BaseURL:      cfg.Webpay.BaseURL,
			CommerceCode: cfg.Webpay.CommerceCode,
			APIKey:       cfg.Webpay.APIKey,
			Timeout:      cfg.Payment.Timeout,
			Digits:       digits,
		}, nil, logger),
	}
	if cfg.MercadoPago.AccessToken != "" {
		providers = append(providers, mercadopago.New(mercadopago.Config{
			BaseURL:         cfg.MercadoPago.BaseURL,
			AccessToken:     cfg.MercadoPago.AccessToken,
			Timeout:         cfg.Payment.Timeout,
			Currency:        cfg.Currency,
			Digits:          digits,
			Sandbox:         cfg.MercadoPago.Sandbox,
			BackURL:         returnURL,
			NotificationURL: cfg.PublicAPIURL + "/orders/mercadopago/webhook",
		}, nil, logger))
	} else {
		logger.Printf("MP_ACCESS_TOKEN not set, mercadopago checkout disabled")
	}

	var fallback *reconcile.CartFallback
	if cfg.Reconcile.CartFallback {
		fallback = reconcile.NewCartFallback(cartRepo, productRepo, logger)
	}
	matcher := reconcile.NewMatcher(intentRepo, orderRepo, fallback, reconcile.Config{
		ScanLimit:    cfg.Reconcile.ScanLimit,
		CartFallback: cfg.Reconcile.CartFallback,
	}, logger)
	materializer := reconcile.NewMaterializer(orderRepo, productRepo, cartRepo, intentRepo, logger)
	engine := reconcile.NewEngine(matcher, materializer)

	checkoutService := checkout.New(providers, cartRepo, intentRepo, orderRepo, engine, checkout.Config{
		ReturnURL: returnURL,
	}, logger)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, dbpool, httpserver.Deps{
		AuthSvc:       authService,
		ProductSvc:    productService,
		CartSvc:       cartService,
		CheckoutSvc:   checkoutService,
		FrontendURL:   cfg.FrontendURL,
		CheckoutRate:  rate.Limit(cfg.Checkout.RatePerSecond),
		CheckoutBurst: cfg.Checkout.RateBurst,
	})
	if err != nil {
		logger.Fatalf("init server: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("starting http server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	} else {
		logger.Printf("server stopped")
	}
}
