package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/config"
	"github.com/studysync/studysync-go/internal/otp"
)

// Backend is the storage selected at startup.
type Backend struct {
	Users UserStore
	OTP   otp.Store
	// Fallback is true when the configured durable backend was unreachable
	// and memory storage is used instead.
	Fallback bool

	closers []func(context.Context) error
}

// Close releases the connections held by the backend.
func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

// Open selects the storage backend once for the process lifetime. When the
// configured durable backend cannot be reached it logs a warning and falls
// back to memory.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Backend, error) {
	driver := strings.ToLower(cfg.StorageDriver)
	var (
		b   *Backend
		err error
	)
	switch driver {
	case "memory":
		return memoryBackend(cfg, false), nil
	case "mongo", "mongodb", "":
		b, err = openMongo(ctx, cfg)
	case "mysql":
		b, err = openMySQL(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		logger.Warn("durable storage unavailable, using in-memory storage",
			zap.String("driver", driver), zap.Error(err))
		return memoryBackend(cfg, true), nil
	}
	return b, nil
}

// Probe connects to the configured durable backend without falling back and
// reports its name.
func Probe(ctx context.Context, cfg config.Config) (string, error) {
	var (
		b   *Backend
		err error
	)
	switch strings.ToLower(cfg.StorageDriver) {
	case "memory":
		return "memory", nil
	case "mysql":
		b, err = openMySQL(ctx, cfg)
	default:
		b, err = openMongo(ctx, cfg)
	}
	if err != nil {
		return "", err
	}
	defer b.Close(ctx)
	return b.Users.Name(), nil
}

func memoryBackend(cfg config.Config, fallback bool) *Backend {
	return &Backend{
		Users:    NewMemoryUserStore(),
		OTP:      otp.NewMemoryStore(cfg.OTPMaxAttempts, otp.WithRetention(cfg.OTPRetention)),
		Fallback: fallback,
	}
}

func openMongo(ctx context.Context, cfg config.Config) (*Backend, error) {
	if cfg.MongoURI == "" {
		return nil, errors.New("MONGODB_URI is not set")
	}
	db, err := NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase, connectTimeout(cfg))
	if err != nil {
		return nil, err
	}
	disconnect := func(ctx context.Context) error { return db.Client().Disconnect(ctx) }

	users := NewMongoUserStore(db)
	challenges := otp.NewMongoStore(db, cfg.OTPMaxAttempts, cfg.OTPRetention)
	if err := ensureMongoIndexes(ctx, users, challenges); err != nil {
		_ = disconnect(ctx)
		return nil, err
	}
	return &Backend{
		Users:   users,
		OTP:     challenges,
		closers: []func(context.Context) error{disconnect},
	}, nil
}

func ensureMongoIndexes(ctx context.Context, users *MongoUserStore, challenges *otp.MongoStore) error {
	if err := users.EnsureIndexes(ctx); err != nil {
		return err
	}
	return challenges.EnsureIndexes(ctx)
}

// openMySQL keeps challenges in memory; only users are stored in MySQL.
func openMySQL(ctx context.Context, cfg config.Config) (*Backend, error) {
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("DATABASE_DSN is not set")
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()

	db, err := NewMySQLDB(pingCtx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	users := NewMySQLUserStore(db)
	if err := users.Migrate(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{
		Users:   users,
		OTP:     otp.NewMemoryStore(cfg.OTPMaxAttempts, otp.WithRetention(cfg.OTPRetention)),
		closers: []func(context.Context) error{closeSQL(db)},
	}, nil
}

func closeSQL(db *sql.DB) func(context.Context) error {
	return func(context.Context) error { return db.Close() }
}

func connectTimeout(cfg config.Config) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return 5 * time.Second
}
