package migrator

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m      *migrate.Migrate
	conn   *sql.DB
	logger *slog.Logger
}

// New opens a database/sql connection through the pgx stdlib driver and binds
// it to the migrations found in source.
func New(dsn string, source fs.FS, logger *slog.Logger) (*Migrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/migrator: open migration connection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/migrator: ping migration connection: %w", err)
	}
	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/migrator: migration driver: %w", err)
	}
	src, err := iofs.New(source, ".")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/migrator: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/migrator: migrate instance: %w", err)
	}
	return &Migrator{m: m, conn: conn, logger: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.report("up", m.m.Up())
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	return m.report("down", m.m.Down())
}

// Steps applies n migrations; negative n rolls back.
func (m *Migrator) Steps(n int) error {
	return m.report(fmt.Sprintf("steps %d", n), m.m.Steps(n))
}

// Version returns the applied version and whether the last migration failed midway.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the source and the connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr, m.conn.Close())
}

func (m *Migrator) report(op string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to apply", slog.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("platform/migrator: migrate %s: %w", op, err)
	}
	v, dirty, verr := m.Version()
	if verr != nil {
		return fmt.Errorf("platform/migrator: migration version: %w", verr)
	}
	m.logger.Info("migrations applied", slog.String("op", op), slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))
	return nil
}
