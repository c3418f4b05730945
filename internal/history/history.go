// Package history persists flashing session records to a local SQLite
// database, using the pure Go driver so canflash stays cgo-free.
package history

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Session is one programming run against a board.
type Session struct {
	ID        string `gorm:"primaryKey"`
	BoardID   uint8
	ImageSize int
	Pages     int
	Duration  time.Duration
	Result    string // "ok" or the error text
	CreatedAt time.Time
}

// Store wraps the session database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the session database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// Record stores one session, assigning an id when the caller left it empty.
func (s *Store) Record(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	return s.db.Create(sess).Error
}

// Recent returns up to n sessions, newest first.
func (s *Store) Recent(n int) ([]Session, error) {
	var out []Session
	err := s.db.Order("created_at desc").Limit(n).Find(&out).Error
	return out, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
