package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"kapalku_backend/internals/configs"
	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	ticketModel "kapalku_backend/internals/features/booking/tickets/model"
	paymentModel "kapalku_backend/internals/features/payment/payments/model"
	helper "kapalku_backend/internals/helpers"
)

// DSN builds the connection string; statement_timeout bounds every query.
func DSN(cfg configs.DB) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + cfg.Port,
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	q.Set("application_name", "kapalku")
	if cfg.StatementTimeout > 0 {
		q.Set("options", fmt.Sprintf("-c statement_timeout=%d", cfg.StatementTimeout.Milliseconds()))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func ConnectDB(cfg configs.DB) (*gorm.DB, error) {
	helper.Logger.WithField("host", cfg.Host).Info("🔌 Koneksi ke PostgreSQL...")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  DSN(cfg),
		PreferSimpleProtocol: true, // cocok untuk PgBouncer (transaction pooling)
	}), &gorm.Config{
		Logger: configs.NewGormLogger(cfg.SlowQuery),
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	TunePool(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Ping(ctx, db); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	helper.Logger.Info("✅ DB connected.")
	return db, nil
}

func TunePool(db *gorm.DB, cfg configs.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		helper.Logger.WithError(err).Warn("pool tune err")
		return
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)
}

// Migrate creates or updates the booking, ticket and payment tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&bookingModel.Schedule{},
		&bookingModel.Booking{},
		&bookingModel.Passenger{},
		&ticketModel.Ticket{},
		&paymentModel.Payment{},
		&paymentModel.PaymentAuditLog{},
		&paymentModel.WebhookLock{},
		&paymentModel.EventOutbox{},
	)
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		helper.Logger.WithError(err).Warn("close db")
	}
}
