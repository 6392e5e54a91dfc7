package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/opsedge/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string
}

func (cfg PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

const (
	connectAttempts = 5
	initialBackoff  = 2 * time.Second
	maxOpenConns    = 10
	maxIdleConns    = 4
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// tables created on startup, in migration order.
var tables = []any{
	&models.ActivityLog{},
	&models.SnapshotIndex{},
}

// NewPostgresDB opens the database that backs the activity sink and the
// snapshot index mirror. Connection attempts back off exponentially and stop
// early when ctx is done.
func NewPostgresDB(ctx context.Context, logger *logrus.Logger, cfg PostgresConfig) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"host":      cfg.Host,
		"database":  cfg.DBName,
	})

	db, err := connect(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := db.WithContext(ctx).AutoMigrate(tables...); err != nil {
		log.WithError(err).Error("Activity and snapshot index migration failed")
		return nil, fmt.Errorf("migrate activity and snapshot index tables: %w", err)
	}

	log.WithField("tables", []string{models.ActivityLog{}.TableName(), models.SnapshotIndex{}.TableName()}).
		Info("Activity store ready")
	return db, nil
}

func connect(ctx context.Context, log *logrus.Entry, cfg PostgresConfig) (*gorm.DB, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			err = ping(ctx, db)
		}
		if err == nil {
			return db, nil
		}
		lastErr = err

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      connectAttempts,
			"backoff": backoff,
		}).WithError(err).Warn("Activity store unreachable")

		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to activity store: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	log.WithError(lastErr).Error("Giving up on activity store")
	return nil, fmt.Errorf("connect to activity store after %d attempts: %w", connectAttempts, lastErr)
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}
