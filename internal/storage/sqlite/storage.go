package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/remerge/internal/bundle"
	"github.com/iudanet/remerge/internal/schema"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DefaultBusyTimeout is used when Config.BusyTimeout is zero
const DefaultBusyTimeout = 5 * time.Second

// initMu serializes setup and bootstrap across every database opened by the
// process. goose keeps its dialect, filesystem and logger in package globals.
var initMu sync.Mutex

// Config holds the optional settings of a Storage
type Config struct {
	Logger      *slog.Logger
	BusyTimeout time.Duration
}

// Storage represents SQLite storage of a single record collection
type Storage struct {
	db       *sql.DB
	logger   *slog.Logger
	bundle   *bundle.Bundle
	clientID string
}

// New creates a new SQLite storage instance for the collection described by
// native. dbPath is the path to the SQLite database file.
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string, native *schema.RecordSchema, cfg Config) (*Storage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	// Открываем соединение с БД
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Одно соединение: все операции идут через одну транзакцию за раз,
	// а in-memory база живёт ровно столько, сколько её соединение
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// busy_timeout первым: смена journal_mode уже берёт блокировку файла
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA temp_store = 2;",
	}

	initMu.Lock()
	defer initMu.Unlock()

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Storage{db: db, logger: logger}

	if err := s.bootstrap(ctx, native); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// ClientID returns the identifier this database writes vector clocks with
func (s *Storage) ClientID() string {
	return s.clientID
}

// Bundle returns the native and local schemas in use
func (s *Storage) Bundle() *bundle.Bundle {
	return s.bundle
}

// runMigrations выполняет миграции из embedded FS.
// Вызывающий должен держать initMu.
func (s *Storage) runMigrations(ctx context.Context) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{logger: s.logger})

	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// gooseLogger routes goose output to slog
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "goose"))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	l.logger.Error(msg, slog.String("component", "goose"))
	panic(msg)
}

// withTx runs fn in a transaction, committing on success
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
