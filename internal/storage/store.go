// Package storage provides MANTIS's durable persistence layer: a single
// embedded SQLite database holding sessions, events, alerts, and the geo
// cache, a serialized writer, and real-time subscriber fan-out. Modeled on
// the teacher's pkg/database.Client (connection pooling, embedded
// migrations run on open) but backed by modernc.org/sqlite instead of
// Postgres, since spec §4.1 calls for an embedded relational store, and
// without Ent, since that requires `go generate` codegen this exercise
// cannot run — Store issues hand-written parameterized SQL instead.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/syn2much/mantis/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

// writeJob is one item of serialized work submitted to the writer goroutine.
type writeJob struct {
	fn   func(*sql.DB) error
	done chan error
}

// Store is MANTIS's durable persistence layer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	writeCh chan writeJob
	closed  atomicBool

	subMu     sync.Mutex
	eventSubs map[chan *model.Event]struct{}
	alertSubs map[chan *model.Alert]struct{}

	wg sync.WaitGroup
}

// atomicBool is a tiny helper; avoids pulling in sync/atomic.Bool wrappers
// everywhere closed is checked under subMu-free paths.
type atomicBool struct {
	mu sync.RWMutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *atomicBool) get() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.v
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and starts the serialized writer goroutine.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY churn and lets our own writeCh be the sole serialization
	// point, matching spec §5's "long-blocking I/O is serialized through a
	// single writer" requirement.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:        db,
		logger:    slog.Default().With("component", "storage"),
		writeCh:   make(chan writeJob, 64),
		eventSubs: make(map[chan *model.Event]struct{}),
		alertSubs: make(map[chan *model.Alert]struct{}),
	}
	s.wg.Add(1)
	go s.writerLoop()
	return s, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "mantis", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if err := source.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}

	// Defensive idempotent add, matching spec §4.1: tolerate a database that
	// already carries the column outside of migrate's own bookkeeping.
	if _, err := db.Exec(`ALTER TABLE alerts ADD COLUMN data TEXT NOT NULL DEFAULT '{}'`); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			// Any other error is almost certainly already handled by the
			// numbered migration above; this ALTER is pure defensive
			// idempotency, so never fail Open over it.
			slog.Default().Debug("alerts.data additive migration no-op", "error", err)
		}
	}
	return nil
}

// writerLoop drains writeCh, running each submitted write against the
// single shared *sql.DB connection. This is the serialization point spec §5
// requires for "long-blocking I/O".
func (s *Store) writerLoop() {
	defer s.wg.Done()
	for job := range s.writeCh {
		job.done <- job.fn(s.db)
	}
}

// submitWrite serializes fn through the writer goroutine. If the store has
// been closed, it is silently dropped per spec §4.1's failure semantics.
func (s *Store) submitWrite(ctx context.Context, fn func(*sql.DB) error) error {
	if s.closed.get() {
		return nil
	}
	job := writeJob{fn: fn, done: make(chan error, 1)}
	select {
	case s.writeCh <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new writes, drains the writer goroutine, and closes
// the underlying database connection.
func (s *Store) Close() error {
	s.closed.set(true)
	close(s.writeCh)
	s.wg.Wait()

	s.subMu.Lock()
	for ch := range s.eventSubs {
		close(ch)
	}
	for ch := range s.alertSubs {
		close(ch)
	}
	s.eventSubs = make(map[chan *model.Event]struct{})
	s.alertSubs = make(map[chan *model.Alert]struct{})
	s.subMu.Unlock()

	return s.db.Close()
}

// DB exposes the underlying *sql.DB for health checks and the "stats"
// read-only CLI subcommand.
func (s *Store) DB() *sql.DB { return s.db }

// HealthStatus mirrors the teacher's database.HealthStatus shape.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	OpenConnections int           `json:"open_connections"`
}

// Health pings the database and reports connection pool statistics.
func (s *Store) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}
	stats := s.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
	}, nil
}
