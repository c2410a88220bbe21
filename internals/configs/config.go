package configs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	helper "kapalku_backend/internals/helpers"
)

// =======================
// APP CONFIG
// =======================

type DB struct {
	Host             string        `envconfig:"HOST" default:"localhost"`
	Port             string        `envconfig:"PORT" default:"5432"`
	User             string        `envconfig:"USER" default:"postgres"`
	Password         string        `envconfig:"PASSWORD"`
	Name             string        `envconfig:"NAME" default:"kapalku"`
	SSLMode          string        `envconfig:"SSLMODE" default:"disable"`
	StatementTimeout time.Duration `envconfig:"STATEMENT_TIMEOUT" default:"15s"`
	MaxOpenConns     int           `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns     int           `envconfig:"MAX_IDLE_CONNS" default:"10"`
	AutoMigrate      bool          `envconfig:"AUTO_MIGRATE" default:"true"`
	SlowQuery        time.Duration `envconfig:"SLOW_QUERY" default:"200ms"`
}

type App struct {
	Port string `envconfig:"PORT" default:"3000"`
	DB   DB     `envconfig:"DB"`

	MidtransServerKey string `envconfig:"MIDTRANS_SERVER_KEY"`
	MidtransUseProd   bool   `envconfig:"MIDTRANS_USE_PROD" default:"false"`

	WebhookHMACSecret string        `envconfig:"WEBHOOK_HMAC_SECRET"`
	WebhookTolerance  time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
	WebhookLockLease  time.Duration `envconfig:"WEBHOOK_LOCK_LEASE" default:"30s"`
	WebhookLockWait   time.Duration `envconfig:"WEBHOOK_LOCK_WAIT" default:"5s"`

	TicketSigningSecret string `envconfig:"TICKET_SIGNING_SECRET"`
	InternalJobToken    string `envconfig:"INTERNAL_JOB_TOKEN"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerSuccessThreshold int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
	BreakerCooldown         time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	GatewayRetryAttempts    int           `envconfig:"GATEWAY_RETRY_ATTEMPTS" default:"3"`
	DBRetryAttempts         int           `envconfig:"DB_RETRY_ATTEMPTS" default:"3"`

	RecoveryStaleAfter time.Duration `envconfig:"RECOVERY_STALE_AFTER" default:"30m"`
	RecoveryBatchSize  int           `envconfig:"RECOVERY_BATCH_SIZE" default:"5"`
	RecoveryBatchDelay time.Duration `envconfig:"RECOVERY_BATCH_DELAY" default:"1s"`
	RecoveryScanLimit  int           `envconfig:"RECOVERY_SCAN_LIMIT" default:"200"`

	EventRedeliverAfter time.Duration `envconfig:"EVENT_REDELIVER_AFTER" default:"1m"`
	EventMaxAttempts    int           `envconfig:"EVENT_MAX_ATTEMPTS" default:"20"`

	CronRecoverStuck   string `envconfig:"CRON_RECOVER_STUCK" default:"*/15 * * * *"`
	CronExpire         string `envconfig:"CRON_EXPIRE" default:"0 * * * *"`
	CronReconcile      string `envconfig:"CRON_RECONCILE" default:"30 0 * * *"`
	CronTicketBackfill  string `envconfig:"CRON_TICKET_BACKFILL" default:"*/10 * * * *"`
	CronEventRedelivery string `envconfig:"CRON_EVENT_REDELIVERY" default:"*/5 * * * *"`

	RabbitURL      string `envconfig:"RABBIT_URL"`
	RabbitExchange string `envconfig:"RABBIT_EXCHANGE" default:"payment.events"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"kapalku-backend"`

	AuditPayloadMaxBytes int `envconfig:"AUDIT_PAYLOAD_MAX_BYTES" default:"8192"`
	PaymentExpiryHours   int `envconfig:"PAYMENT_EXPIRY_HOURS" default:"24"`

	SeedDir string `envconfig:"SEED_DIR"` // kosong → tidak seed
}

// ErrNoWebhookSecret: tanpa secret, webhook tidak bisa diverifikasi.
var ErrNoWebhookSecret = errors.New("no webhook verification secret")

// =======================
// ENV LOADER
// =======================
func LoadEnv() {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" {
		if err := godotenv.Load(); err != nil {
			helper.Logger.Warn("⚠️ Tidak menemukan .env file, menggunakan ENV dari sistem")
		} else {
			helper.Logger.Info("✅ .env file berhasil dimuat!")
		}
	} else {
		helper.Logger.Info("🚀 Running in Railway, menggunakan ENV dari sistem")
	}
}

// Load reads the process environment into App. Call LoadEnv first.
func Load() (App, error) {
	var cfg App
	if err := envconfig.Process("", &cfg); err != nil {
		return App{}, err
	}
	if cfg.MidtransServerKey == "" && cfg.WebhookHMACSecret == "" {
		return App{}, fmt.Errorf("%w: MIDTRANS_SERVER_KEY atau WEBHOOK_HMAC_SECRET wajib diset", ErrNoWebhookSecret)
	}
	cfg.warnMissing()
	return cfg, nil
}

func (c App) warnMissing() {
	for key, val := range map[string]string{
		"MIDTRANS_SERVER_KEY":   c.MidtransServerKey,
		"WEBHOOK_HMAC_SECRET":   c.WebhookHMACSecret,
		"TICKET_SIGNING_SECRET": c.TicketSigningSecret,
		"INTERNAL_JOB_TOKEN":    c.InternalJobToken,
	} {
		if val == "" {
			helper.Logger.Warnf("❌ %s belum diset!", key)
		}
	}
}

// =======================
// GORM LOGGER (logrus)
// =======================
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormLogger.LogLevel
	log           *logrus.Entry
}

func NewGormLogger(slow time.Duration) gormLogger.Interface {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return &GormLogger{
		SlowThreshold: slow,
		LogLevel:      gormLogger.Warn,
		log:           helper.Logger.WithField("component", "gorm"),
	}
}

func (l *GormLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	cp := *l
	cp.LogLevel = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Error {
		l.log.Errorf(msg, data...)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormLogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	entry := l.log.WithFields(logrus.Fields{
		"file":    utils.FileWithLineNum(),
		"elapsed": elapsed.String(),
		"rows":    rows,
	})

	switch {
	case err != nil && l.LogLevel >= gormLogger.Error && !isRecordNotFound(err):
		entry.WithError(err).Error(sql)
	case elapsed > l.SlowThreshold && l.LogLevel >= gormLogger.Warn:
		entry.Warn("[SLOW SQL] " + sql)
	case l.LogLevel >= gormLogger.Info:
		entry.Debug(sql)
	}
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gormLogger.ErrRecordNotFound)
}
