package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/gatewise/guestgate/internal/checkin"
	"github.com/gatewise/guestgate/internal/clock"
	"github.com/gatewise/guestgate/internal/http/handlers"
	httpmw "github.com/gatewise/guestgate/internal/http/middleware"
	"github.com/gatewise/guestgate/internal/platform/mailer"
	"github.com/gatewise/guestgate/internal/platform/notify"
	"github.com/gatewise/guestgate/internal/platform/reward"
	"github.com/gatewise/guestgate/internal/repo/postgres"
	"github.com/gatewise/guestgate/pkg/config"
	"github.com/gatewise/guestgate/pkg/database"
	"github.com/gatewise/guestgate/pkg/events"
	"github.com/gatewise/guestgate/pkg/logger"
	mw "github.com/gatewise/guestgate/pkg/middleware"
)

const invitationSweepInterval = 15 * time.Minute

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Redis backs scan rate limiting; the API runs without it.
	var rdb *redis.Client
	if opts, err := redis.ParseURL(cfg.Redis.URL); err != nil {
		logger.Warn("Invalid redis URL, scan rate limiting disabled", "error", err)
	} else {
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	// Initialize repositories
	guestRepo := postgres.NewGuestRepository(pool)
	visitRepo := postgres.NewVisitRepository(pool)
	consentRepo := postgres.NewConsentRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	hostRepo := postgres.NewHostRepository(pool)
	locationRepo := postgres.NewLocationRepository(pool)
	policyRepo := postgres.NewPolicyRepository(pool)
	invitationRepo := postgres.NewInvitationRepository(pool)

	// Platform services
	var mail mailer.Service
	if cfg.Email.DevMode || cfg.Email.MailerSendKey == "" {
		mail = mailer.NewDevMailer()
	} else {
		mail = mailer.NewMailer(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.From)
	}
	rewards := reward.NewStripeIssuer(cfg.Stripe.SecretKey)
	clk := clock.New(cfg.CheckIn.Timezone)

	// Services
	discounts := checkin.NewDiscountTrigger(visitRepo, discountRepo, rewards, mail, eventBus)
	orchestrator := checkin.NewOrchestrator(checkin.Deps{
		Guests:      guestRepo,
		Visits:      visitRepo,
		Consents:    consentRepo,
		Hosts:       hostRepo,
		Locations:   locationRepo,
		Policies:    policyRepo,
		Invitations: invitationRepo,
		Discounts:   discounts,
		Clock:       clk,
		Bus:         eventBus,
		Config:      cfg.CheckIn,
	})
	invitations := checkin.NewInvitationService(
		guestRepo, hostRepo, locationRepo, invitationRepo,
		mail, eventBus, clk, cfg.CheckIn,
	)
	go invitations.RunExpirySweep(ctx, invitationSweepInterval)

	if err := notify.NewWorker(eventBus, mail).Start(); err != nil {
		logger.Error("Failed to start notify worker", "error", err)
		os.Exit(1)
	}

	// Handlers
	checkInHandler := handlers.NewCheckInHandler(orchestrator)
	visitHandler := handlers.NewVisitHandler(orchestrator)
	invitationHandler := handlers.NewInvitationHandler(invitations)
	authHandler := handlers.NewAuthHandler(hostRepo, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	adminHandler := handlers.NewAdminHandler(guestRepo, policyRepo, clk)

	scanLimiter := httpmw.NewRateLimiter(rdb, httpmw.RateLimitConfig{
		Requests: cfg.CheckIn.ScanRateLimit,
		Window:   cfg.CheckIn.ScanRateWindow,
		KeyFunc:  httpmw.ScanRateLimitKeyFunc,
	})

	// Setup router
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("guestgate"))
	r.Use(mw.Logging)
	r.Use(mw.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/auth", authHandler.Routes())
		r.With(scanLimiter.Middleware(), httpmw.OptionalJWT(cfg.Auth.JWTSecret)).
			Mount("/checkin", checkInHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(httpmw.RequireJWT(cfg.Auth.JWTSecret))
			r.Mount("/visits", visitHandler.Routes())
			r.Mount("/invitations", invitationHandler.Routes())
			r.Mount("/admin", adminHandler.Routes())
		})
	})

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down guestgate API...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting guestgate API", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
