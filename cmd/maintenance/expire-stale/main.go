package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spacehub/booking-backend/internal/config"
	"github.com/spacehub/booking-backend/internal/database"
	"github.com/spacehub/booking-backend/internal/models"
	"github.com/spacehub/booking-backend/internal/services"
)

// Runs a single expiry sweep against the database, for use from a
// scheduler when the server's own sweep is disabled or lagging.
func main() {
	// .env first so BOOKING_RESERVATION_WINDOW can seed the -window default
	_ = godotenv.Load()

	var (
		dbURLFlag string
		driver    string
		window    time.Duration
		dryRun    bool
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	flag.StringVar(&driver, "driver", "postgres", "database/sql driver: postgres or pgx")
	flag.DurationVar(&window, "window", config.ReservationWindowFromEnv(),
		"reservation window; pending bookings older than this are expired (default from BOOKING_RESERVATION_WINDOW)")
	flag.BoolVar(&dryRun, "dry-run", false, "list stale bookings without expiring them")
	flag.Parse()

	if window <= 0 {
		log.Fatal("-window must be positive")
	}

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set and -database-url was not provided")
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, config.DatabaseConfig{
		URL:                dbURL,
		Driver:             driver,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	bookings := database.NewBookingRepository(db)

	if dryRun {
		stale, err := bookings.ListStale(ctx, time.Now().UTC().Add(-window))
		if err != nil {
			log.Fatalf("failed to list stale bookings: %v", err)
		}
		fmt.Printf("%d pending booking(s) older than %s would be expired.\n", len(stale), window)
		printBookings(stale)
		return
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ledger := services.NewBookingLedgerService(
		database.NewSpaceRepository(db),
		bookings,
		nil,
		services.BookingLedgerConfig{ReservationWindow: window},
		logger,
	)

	expired, err := services.NewBookingExpirationService(ledger, window, logger).RunOnce(ctx)
	if err != nil {
		log.Fatalf("expiry sweep failed: %v", err)
	}

	fmt.Printf("Expired %d stale booking(s).\n", len(expired))
	printBookings(expired)
}

func printBookings(bookings []*models.Booking) {
	for _, b := range bookings {
		fmt.Printf("  %s space=%s [%s, %s) created=%s\n",
			b.ID, b.SpaceID,
			b.StartTime.Format(time.RFC3339), b.EndTime.Format(time.RFC3339),
			b.CreatedAt.Format(time.RFC3339))
	}
}
