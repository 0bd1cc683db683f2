package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/config"
	"github.com/tembera/booking-backend/internal/database"
	"github.com/tembera/booking-backend/internal/handlers"
	"github.com/tembera/booking-backend/internal/metrics"
	"github.com/tembera/booking-backend/internal/middleware"
	"github.com/tembera/booking-backend/internal/services"
	"github.com/tembera/booking-backend/pkg/jwt"
	"github.com/tembera/booking-backend/pkg/payment"
	"github.com/tembera/booking-backend/pkg/sms"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Tembera booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(ctx, db)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("Database schema is up to date")
	}

	metrics.Register()

	// Repositories
	bookingRepository := database.NewBookingRepository(db, cfg.Booking.CreateRetries)
	paymentRepository := database.NewPaymentRepository(db)
	auditRepository := database.NewPaymentAuditRepository(db, logger)
	serviceRepository := database.NewServiceRepository(db)
	userRepository := database.NewUserRepository(db)

	// Payment gateways
	gateways := payment.NewRegistry(cfg.Payment.Gateway,
		payment.NewFlutterwave(payment.FlutterwaveConfig{
			BaseURL:     cfg.Payment.Flutterwave.BaseURL,
			SecretKey:   cfg.Payment.Flutterwave.SecretKey,
			WebhookHash: cfg.Payment.Flutterwave.WebhookHash,
			Timeout:     cfg.Payment.Timeout,
		}),
		payment.NewStripe(payment.StripeConfig{
			BaseURL:       cfg.Payment.Stripe.BaseURL,
			SecretKey:     cfg.Payment.Stripe.SecretKey,
			WebhookSecret: cfg.Payment.Stripe.WebhookSecret,
			CancelURL:     cfg.Payment.Stripe.CancelURL,
			Timeout:       cfg.Payment.Timeout,
		}),
	)
	logger.WithFields(logrus.Fields{
		"default":  cfg.Payment.Gateway,
		"gateways": gateways.Names(),
	}).Info("Payment gateways registered")

	// Notification sinks
	sinks := []services.Sink{services.NewLogSink(logger)}
	if cfg.Notification.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Notification.RedisURL)
		if err != nil {
			logger.Fatalf("Invalid NOTIFY_REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		sinks = append(sinks, services.NewRedisQueueSink(redisClient, cfg.Notification.RedisList))
		logger.WithField("list", cfg.Notification.RedisList).Info("Notification queue sink enabled")
	}
	if cfg.Notification.SMSAPIURL != "" {
		sinks = append(sinks, services.NewSMSSink(sms.NewHTTPGateway(sms.HTTPConfig{
			APIURL: cfg.Notification.SMSAPIURL,
			APIKey: cfg.Notification.SMSAPIKey,
			Sender: cfg.Notification.SMSSender,
		})))
		logger.Info("SMS notification sink enabled")
	}
	dispatcher := services.NewNotificationDispatcher(userRepository, cfg.Notification.Timeout, logger, sinks...)

	// Services
	availabilityService := services.NewAvailabilityService(serviceRepository, bookingRepository)
	bookingService := services.NewBookingService(bookingRepository, serviceRepository, dispatcher, cfg.Booking, logger)
	paymentService := services.NewPaymentService(
		paymentRepository,
		bookingRepository,
		userRepository,
		gateways,
		auditRepository,
		dispatcher,
		cfg.Payment,
		logger,
	)
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	cronService := services.NewCronService(cfg.Sweeper, paymentService, bookingService, logger)
	if cfg.Sweeper.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
		logger.Info("✓ Cron service started - pending payment sweep and booking completion enabled")
	}

	// Handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, availabilityService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, gateways, cfg.Payment, logger)
	adminHandler := handlers.NewAdminHandler(bookingService, cronService, logger)
	verifyLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	defer stopLimiter()
	go verifyLimiter.Run(limiterCtx)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", handlers.HealthCheck(db, version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/availability", bookingHandler.CheckAvailability)

		// Payment return paths. Gateways and browsers call these without a token.
		payments := v1.Group("/payments")
		{
			payments.GET("/verify", verifyLimiter.Middleware(), paymentHandler.VerifyPayment)
			payments.POST("/verify", verifyLimiter.Middleware(), paymentHandler.VerifyPayment)
			payments.GET("/callback", paymentHandler.PaymentCallback)
			payments.POST("/webhooks/:gateway", paymentHandler.PaymentWebhook)
		}

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtService, logger))
		{
			protected.POST("/bookings", bookingHandler.CreateBooking)
			protected.GET("/bookings/:id", bookingHandler.GetBooking)
			protected.PUT("/bookings/:id/cancel", bookingHandler.CancelBooking)
			protected.POST("/payments/initiate", paymentHandler.InitiatePayment)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService, logger), middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.PUT("/bookings/:id/status", adminHandler.UpdateBookingStatus)
			admin.DELETE("/bookings/:id", adminHandler.DeleteBooking)
			admin.POST("/payments/reconcile-pending", adminHandler.ReconcilePending)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Payment.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	if cfg.Sweeper.Enabled {
		logger.Info("Stopping cron service...")
		cronService.Stop()
	}

	// In-flight notifications hold their own timeout
	dispatcher.Wait()

	logger.Info("Server exited successfully")
}

// containsWildcard reports whether origins allows any origin.
// cors rejects AllowCredentials together with "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
