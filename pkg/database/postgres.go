package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"taskchat/internal/config"
	"taskchat/internal/domain/call"
	"taskchat/internal/domain/group"
	"taskchat/internal/domain/message"
	"taskchat/internal/domain/notification"
	"taskchat/internal/domain/user"
)

// Connect opens the Postgres pool used by every repository.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate brings the schema up to date for all session-core tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&user.User{},
		&user.Settings{},
		&user.PushSubscription{},
		&group.Group{},
		&group.Member{},
		&message.Message{},
		&message.Receipt{},
		&call.Session{},
		&call.Participant{},
		&notification.Notification{},
	)
}
