package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrPrivateChat         = errors.New("private chat membership cannot change")
	ErrFileSharingDisabled = errors.New("file sharing is disabled in this chat")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidChat         = errors.New("invalid chat")
)

// ConflictError is returned when a private chat already exists for the pair.
type ConflictError struct {
	ChatID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("private chat already exists: %s", e.ChatID)
}

// Store persists the chat and message aggregates.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// OpenMySQL connects and migrates the schema.
func OpenMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.Participant{},
		&models.Message{},
		&models.Attachment{},
		&models.Reaction{},
		&models.ReadReceipt{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
