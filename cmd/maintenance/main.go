package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tembera/booking-backend/internal/config"
	"github.com/tembera/booking-backend/internal/database"
	"github.com/tembera/booking-backend/internal/services"
	"github.com/tembera/booking-backend/pkg/payment"
)

// maintenance runs the scheduled sweeps once and exits. Useful from an
// external scheduler when the in-process cron is disabled.
func main() {
	var (
		pending  bool
		complete bool
		timeout  time.Duration
	)
	flag.BoolVar(&pending, "pending", true, "reconcile stale PENDING payments")
	flag.BoolVar(&complete, "complete", true, "mark ended CONFIRMED bookings COMPLETED")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	bookingRepository := database.NewBookingRepository(db, cfg.Booking.CreateRetries)
	userRepository := database.NewUserRepository(db)

	gateways := payment.NewRegistry(cfg.Payment.Gateway,
		payment.NewFlutterwave(payment.FlutterwaveConfig{
			BaseURL:   cfg.Payment.Flutterwave.BaseURL,
			SecretKey: cfg.Payment.Flutterwave.SecretKey,
			Timeout:   cfg.Payment.Timeout,
		}),
		payment.NewStripe(payment.StripeConfig{
			BaseURL:   cfg.Payment.Stripe.BaseURL,
			SecretKey: cfg.Payment.Stripe.SecretKey,
			Timeout:   cfg.Payment.Timeout,
		}),
	)

	dispatcher := services.NewNotificationDispatcher(userRepository, cfg.Notification.Timeout, logger)
	bookingService := services.NewBookingService(bookingRepository, database.NewServiceRepository(db), dispatcher, cfg.Booking, logger)
	paymentService := services.NewPaymentService(
		database.NewPaymentRepository(db),
		bookingRepository,
		userRepository,
		gateways,
		database.NewPaymentAuditRepository(db, logger),
		dispatcher,
		cfg.Payment,
		logger,
	)
	sweeps := services.NewCronService(cfg.Sweeper, paymentService, bookingService, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	failed := false
	if pending {
		summary, err := sweeps.RunPendingSweep(ctx)
		if err != nil {
			logger.WithError(err).Error("Pending payment sweep failed")
			failed = true
		} else {
			logger.WithFields(logrus.Fields{
				"checked":   summary.Checked,
				"completed": summary.Completed,
				"failed":    summary.Failed,
				"pending":   summary.Pending,
				"errors":    summary.Errors,
			}).Info("Pending payment sweep finished")
		}
	}

	if complete {
		n, err := sweeps.RunCompletion(ctx)
		if err != nil {
			logger.WithError(err).Error("Booking completion failed")
			failed = true
		} else {
			logger.WithField("completed", n).Info("Booking completion finished")
		}
	}

	dispatcher.Wait()
	if failed {
		os.Exit(1)
	}
}
