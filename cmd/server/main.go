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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/config"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/events"
	"github.com/spacehub/booking-backend/internal/handlers"
	"github.com/spacehub/booking-backend/internal/metrics"
	"github.com/spacehub/booking-backend/internal/middleware"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/spacehub/booking-backend/internal/repository"
	"github.com/spacehub/booking-backend/internal/services"
	"github.com/spacehub/booking-backend/pkg/jwt"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// demoSpaceID is seeded when running on the in-memory store
var demoSpaceID = uuid.MustParse("5a1e0000-0000-4000-8000-000000000001")

// storage bundles the stores the services depend on
type storage struct {
	spaces   database.SpaceStore
	bookings database.BookingStore
	audit    database.PaymentEventStore
	ping     func(ctx context.Context) error
	close    func() error
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
	}).Info("Starting space booking backend")

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

	// Storage
	store, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.close()

	// Lifecycle events feed the transition counters
	bus := events.NewEventBus()
	for _, eventType := range events.LifecycleEvents {
		bus.Subscribe(eventType, func(event *events.Event) error {
			payload, err := events.Decode(event)
			if err != nil {
				return err
			}
			metrics.IncTransition(payload.Status)
			return nil
		})
	}

	// Webhook de-duplication (optional)
	var dedup services.EventDeduplicator
	if cfg.Redis.Address != "" {
		client := repository.NewRedisClient(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unreachable, webhook de-duplication disabled")
		} else {
			dedup = repository.NewRedisEventDeduplicator(client, cfg.Redis.EventTTL)
			defer client.Close()
			logger.WithField("addr", cfg.Redis.Address).Info("Webhook de-duplication enabled")
		}
	}

	// Payment gateway
	gatewayClient := services.NewPaymentGatewayService(&cfg.Payment, logger)
	var gateway services.PaymentGateway = gatewayClient
	if !gatewayClient.IsConfigured() {
		logger.Warn("Payment gateway not configured - using sandbox gateway")
		gateway = services.NewSandboxPaymentGateway(logger)
	}

	// Services
	ledger := services.NewBookingLedgerService(store.spaces, store.bookings, bus, services.BookingLedgerConfig{
		ReservationWindow: cfg.Booking.ReservationWindow,
		DefaultCurrency:   cfg.Payment.Currency,
	}, logger)
	checker := services.NewAvailabilityChecker(store.bookings, cfg.Booking.ReservationWindow)
	coordinator := services.NewPaymentCoordinatorService(gateway, ledger, store.audit, dedup, cfg.Payment.Timeout, logger)
	orchestrator := services.NewBookingOrchestratorService(checker, ledger, coordinator, services.RetryPolicy{
		MaxAttempts:   cfg.Booking.MaxGatewayAttempts,
		InitialDelay:  cfg.Booking.BackoffInitial,
		MaxDelay:      cfg.Booking.BackoffMax,
		BackoffFactor: cfg.Booking.BackoffFactor,
	}, logger)

	expiration := services.NewBookingExpirationService(ledger, cfg.Booking.SweepInterval, logger)
	if err := expiration.Start(); err != nil {
		logger.Fatalf("Failed to start expiration service: %v", err)
	}

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	bookingHandler := handlers.NewBookingHandler(orchestrator, gatewayClient, cfg.Booking.DefaultPageSize, logger)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		metrics.Register()
		router.Use(metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(store, expiration))

	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(jwtService, logger))
	bookingHandler.RegisterRoutes(v1, protected, rateLimiter.Middleware())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"environment": cfg.Server.Environment,
			"storage":     cfg.Storage.Driver,
		}).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	expiration.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// openStorage connects the configured storage backend
func openStorage(cfg *config.Config, logger *logrus.Logger) (*storage, error) {
	if cfg.Storage.Driver == "memory" {
		mem := database.NewMemoryBookingStore()
		now := time.Now().UTC()
		mem.PutSpace(&models.Space{
			ID:         demoSpaceID,
			Name:       "Demo meeting room",
			HourlyRate: 500,
			Capacity:   8,
			Currency:   cfg.Payment.Currency,
			Status:     models.SpaceStatusAvailable,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		logger.WithField("space_id", demoSpaceID).Warn("Using in-memory storage; data is lost on restart")
		return &storage{
			spaces:   mem,
			bookings: mem,
			audit:    mem,
			ping:     func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	return &storage{
		spaces:   database.NewSpaceRepository(db),
		bookings: database.NewBookingRepository(db),
		audit:    database.NewPaymentEventRepository(db, logger),
		ping:     db.PingContext,
		close:    db.Close,
	}, nil
}

// healthCheckHandler reports storage and expiry job health
func healthCheckHandler(store *storage, expiration *services.BookingExpirationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     "healthy",
			"database":   "healthy",
			"expiration": expiration.Status(),
			"version":    version,
			"timestamp":  time.Now().Unix(),
		})
	}
}
