package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4" // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-booking/internal/config" // Internal config loader
	"github.com/iliyamo/bus-seat-booking/internal/database"
	"github.com/iliyamo/bus-seat-booking/internal/handler"
	"github.com/iliyamo/bus-seat-booking/internal/middleware"
	"github.com/iliyamo/bus-seat-booking/internal/queue"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
	"github.com/iliyamo/bus-seat-booking/internal/router" // Internal router setup
	"github.com/iliyamo/bus-seat-booking/internal/scheduler"
	"github.com/iliyamo/bus-seat-booking/internal/service"
	"github.com/iliyamo/bus-seat-booking/internal/webhook"
)

func main() {
	cfg := config.Load() // Load environment config
	log := config.NewLogger(cfg.LogLevel, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.WithError(err).Fatal("connect mysql")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer rdb.Close()

	lockStore := repository.NewSeatLockStore(rdb)
	locks := service.NewSeatLockService(lockStore, log, service.WithLockTTL(cfg.SeatLockTTL))

	// Without a broker URL bookings still work; they just emit no events.
	var events service.EventPublisher
	if cfg.RabbitMQURL != "" {
		pub := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer pub.Close()
		events = pub
		if cfg.AuditLogEnabled {
			audit := queue.NewAuditConsumer(cfg.RabbitMQURL, cfg.AuditLogDir, log)
			go func() {
				if err := audit.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.WithError(err).Error("audit consumer stopped")
				}
			}()
		}
	} else {
		log.Warn("RABBITMQ_URL not set; booking events are disabled")
	}

	bookings := service.NewBookingService(
		repository.NewBookingRepo(db),
		repository.NewTripRepo(db),
		locks,
		events,
		log,
		service.WithPaymentWindow(cfg.PaymentWindow),
		service.WithServiceFeePercent(cfg.ServiceFeePercent),
		service.WithReferenceAttempts(cfg.ReferenceAttempts),
	)

	cleanup := service.NewLockCleanupService(lockStore, log, service.WithCleanupInterval(cfg.LockCleanupInterval))
	cleanup.Start(ctx)
	defer cleanup.Stop()

	expiry := scheduler.New("booking-expiry", cfg.BookingExpiryInterval, func(ctx context.Context) error {
		n, err := bookings.ExpirePending(ctx)
		if n > 0 {
			log.WithField("expired", n).Info("expired unpaid bookings")
		}
		return err
	}, log, scheduler.RunAtStart())
	expiry.Start(ctx)
	defer expiry.Stop()

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.RequestID(), echomw.Recover(), middleware.RequestLogger(log))

	router.RegisterRoutes(e, map[string]handler.Check{ // Register application routes
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	router.RegisterSeatLocks(e, handler.NewSeatLockHandler(locks, bookings, log), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))
	router.RegisterBookings(e, handler.NewBookingHandler(bookings, log), cfg.JWTSecret)
	router.RegisterWebhooks(e, handler.NewWebhookHandler(webhook.NewVerifier(cfg.PayOSChecksumKey), bookings, log))

	addr := ":" + cfg.Port // Address string with port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "lock_ttl": cfg.SeatLockTTL}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}
