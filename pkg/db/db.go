package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is the local SQLite database holding the kanji and radical tables
// together with their version rows.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the database at path and migrates it to the latest schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := openConn(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: conn, path: path, logger: logger}, nil
}

func openConn(path string) (*sql.DB, error) {
	dsn := path
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_foreign_keys=on&_journal_mode=WAL"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Each connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}

	if err := InitDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// InitDB runs the embedded migrations on the given connection.
func InitDB(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{
		MigrationsTable: "kanjidb_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m.Close would close conn as well, so only the source is released.
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// DB returns the underlying connection for read queries.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Path returns the path the store was opened with.
func (s *Store) Path() string { return s.path }

// RunInTx runs fn inside a single transaction. Any error returned by fn rolls
// the transaction back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Destroy wipes the database and replaces it with a fresh, empty one at the
// same path.
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("failed to close database before destroy", zap.Error(err))
		}
		s.db = nil
	}
	if s.path != MemoryPath {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove database file: %w", err)
			}
		}
	}

	conn, err := openConn(s.path)
	if err != nil {
		return fmt.Errorf("recreate database: %w", err)
	}
	s.db = conn
	s.logger.Info("database destroyed", zap.String("path", s.path))
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
