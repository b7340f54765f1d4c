package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database encapsula la conexión a SQLite y el directorio de blobs
type Database struct {
	DB    *sqlx.DB
	Store *ChunkStore
	sqlDB *sql.DB // Para migrations
}

// Option ajusta la configuración del store
type Option func(*ChunkStore)

// WithQuota fija una cuota explícita en bytes en lugar de la del filesystem
func WithQuota(bytes int64) Option {
	return func(s *ChunkStore) {
		s.quotaBytes = bytes
	}
}

// NewDatabase crea una nueva base de datos y ejecuta migrations
func NewDatabase(dataDir string, opts ...Option) (*Database, error) {
	mediaDir := filepath.Join(dataDir, "media")

	// Crear directorios de datos si no existen
	for _, dir := range []string{dataDir, mediaDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dbPath := filepath.Join(dataDir, "cache.db")

	// Abrir con database/sql (para migrations)
	sqlDB, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Ejecutar migrations
	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Abrir con sqlx (para queries)
	db := sqlx.NewDb(sqlDB, "sqlite3")

	// SQLite no soporta concurrencia de escritura
	db.SetMaxOpenConns(1)

	store := NewChunkStore(db, mediaDir)
	for _, opt := range opts {
		opt(store)
	}

	return &Database{
		DB:    db,
		sqlDB: sqlDB,
		Store: store,
	}, nil
}

// runMigrations ejecuta las migraciones usando golang-migrate
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	// Source desde filesystem embebido
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close cierra la conexión a la base de datos
func (d *Database) Close() error {
	return d.DB.Close()
}

// Close cierra la conexión compartida; equivale a Database.Close
func (s *ChunkStore) Close() error {
	return s.db.Close()
}
