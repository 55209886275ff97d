package config // package config loads application configuration from environment variables

import (
    "errors"
    "fmt"
    "os"
    "strconv"
    "time"

    "github.com/joho/godotenv"
    "github.com/sirupsen/logrus"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Durations are parsed with time.ParseDuration
// ("10m", "90s"); money settings are plain integers.
type Config struct {
    Env    string // application environment (e.g. "dev", "prod")
    Port   string // HTTP port to listen on
    DBUser string // database username
    DBPass string // database password (optional)
    DBHost string // database host address
    DBPort string // database port number
    DBName string // database name

    JWTSecret        string // secret used to verify bearer tokens; empty disables JWT identity
    PayOSChecksumKey string // shared secret of the payment gateway webhooks
    RabbitMQURL      string // AMQP url; empty disables booking events

    SeatLockTTL           time.Duration // lifetime of a seat lock
    LockCleanupInterval   time.Duration // how often orphaned lock keys are swept
    PaymentWindow         time.Duration // how long a pending booking waits for payment
    BookingExpiryInterval time.Duration // how often overdue bookings are expired
    ServiceFeePercent     int           // fee added to the seat subtotal, in percent
    ReferenceAttempts     int           // booking reference collisions tolerated

    LogLevel        string // logrus level name
    AuditLogEnabled bool   // consume booking events into the audit log
    AuditLogDir     string // directory of the audit log file
}

// Load reads an optional .env file and then configuration values from
// environment variables.  Missing or malformed required values cause the
// program to exit with a fatal log message.
func Load() Config {
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        logrus.Fatalf("read .env: %v", err)
    }
    cfg, err := load()
    if err != nil {
        logrus.Fatal(err)
    }
    return cfg
}

// load builds a Config from the environment without exiting.
func load() (Config, error) {
    var errs []error
    must := func(key string) string {
        v, ok := os.LookupEnv(key)
        if !ok || v == "" {
            errs = append(errs, fmt.Errorf("missing required env var: %s", key))
        }
        return v
    }
    dur := func(key string, def time.Duration) time.Duration {
        v := os.Getenv(key)
        if v == "" {
            return def
        }
        d, err := time.ParseDuration(v)
        if err != nil || d <= 0 {
            errs = append(errs, fmt.Errorf("invalid duration for %s: %q", key, v))
            return def
        }
        return d
    }
    num := func(key string, def int) int {
        v := os.Getenv(key)
        if v == "" {
            return def
        }
        n, err := strconv.Atoi(v)
        if err != nil || n < 0 {
            errs = append(errs, fmt.Errorf("invalid int for %s: %q", key, v))
            return def
        }
        return n
    }

    cfg := Config{
        Env:    must("APP_ENV"),
        Port:   must("APP_PORT"),
        DBUser: must("DB_USER"),
        DBPass: os.Getenv("DB_PASS"),
        DBHost: must("DB_HOST"),
        DBPort: must("DB_PORT"),
        DBName: must("DB_NAME"),

        JWTSecret:        os.Getenv("JWT_SECRET"),
        PayOSChecksumKey: must("PAYOS_CHECKSUM_KEY"),
        RabbitMQURL:      os.Getenv("RABBITMQ_URL"),

        SeatLockTTL:           dur("SEAT_LOCK_TTL", 10*time.Minute),
        LockCleanupInterval:   dur("LOCK_CLEANUP_INTERVAL", 5*time.Minute),
        PaymentWindow:         dur("PAYMENT_WINDOW", 15*time.Minute),
        BookingExpiryInterval: dur("BOOKING_EXPIRY_INTERVAL", time.Minute),
        ServiceFeePercent:     num("SERVICE_FEE_PERCENT", 0),
        ReferenceAttempts:     num("BOOKING_REFERENCE_ATTEMPTS", 5),

        LogLevel:        envStr("LOG_LEVEL", "info"),
        AuditLogEnabled: envBool("AUDIT_LOG_ENABLED", false),
        AuditLogDir:     envStr("AUDIT_LOG_DIR", "logs"),
    }
    if cfg.ReferenceAttempts == 0 {
        errs = append(errs, errors.New("BOOKING_REFERENCE_ATTEMPTS must be at least 1"))
    }
    return cfg, errors.Join(errs...)
}
