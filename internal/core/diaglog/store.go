package diaglog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

const (
	maxStoreBytes  int64 = 256 << 20 // 256 MiB
	evictBatchSize       = 100
	vacuumInterval       = 50
)

// ErrEmpty is returned when no record exists for a category.
var ErrEmpty = errors.New("diaglog: no records")

// Record is one immutable diagnostics entry. Never read by business logic;
// it exists for liveness queries and post-event debugging.
type Record struct {
	Received time.Time
	Category string
	Payload  []byte
	Headers  string
}

// Store is an append-only FIFO log of inbound API events in SQLite, capped
// by total payload bytes. Oldest rows are evicted when the cap is
// exceeded.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	cachedSize   int64
	evictCounter int
	maxBytes     int64
	evictBatch   int
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create diag dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	var avMode int
	if err := db.QueryRow(`PRAGMA auto_vacuum`).Scan(&avMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("read auto_vacuum: %w", err)
	}
	if avMode != 2 { // 2 = INCREMENTAL
		if _, err := db.Exec(`PRAGMA auto_vacuum = INCREMENTAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set auto_vacuum: %w", err)
		}
		if _, err := db.Exec(`VACUUM`); err != nil {
			telemetry.Warnf("diaglog: VACUUM to enable auto_vacuum failed: %v", err)
		}
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS diag_logs (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			received  TEXT    NOT NULL,
			category  TEXT    NOT NULL,
			payload   BLOB    NOT NULL,
			headers   TEXT    NOT NULL DEFAULT '',
			byte_size INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diag_category ON diag_logs(category, id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init diag schema: %w", err)
		}
	}

	var size int64
	if err := db.QueryRow(`SELECT COALESCE(SUM(byte_size), 0) FROM diag_logs`).Scan(&size); err != nil {
		db.Close()
		return nil, fmt.Errorf("read diag size: %w", err)
	}

	return &Store{db: db, cachedSize: size, maxBytes: maxStoreBytes, evictBatch: evictBatchSize}, nil
}

// Append stores a record asynchronously. A write failure only logs; the
// diagnostics log is never allowed to fail request processing.
func (s *Store) Append(category string, payload []byte, headers string) {
	if s == nil {
		return
	}
	size := int64(len(payload))
	payloadCopy := make([]byte, size)
	copy(payloadCopy, payload)
	received := time.Now().UTC()

	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		_, err := s.db.Exec(
			`INSERT INTO diag_logs (received, category, payload, headers, byte_size) VALUES (?, ?, ?, ?, ?)`,
			received.Format(time.RFC3339Nano),
			category,
			payloadCopy,
			headers,
			size,
		)
		if err != nil {
			telemetry.Warnf("diaglog: insert failed: %v", err)
			return
		}

		s.cachedSize += size
		if s.cachedSize > s.maxBytes {
			s.evict()
		}
	}()
}

// LastByCategory returns the most recent record in a category.
func (s *Store) LastByCategory(ctx context.Context, category string) (Record, error) {
	if s == nil {
		return Record{}, ErrEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Record
	var received string
	err := s.db.QueryRowContext(ctx,
		`SELECT received, category, payload, headers FROM diag_logs
		 WHERE category = ? ORDER BY id DESC LIMIT 1`, category).
		Scan(&received, &rec.Category, &rec.Payload, &rec.Headers)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrEmpty
	}
	if err != nil {
		return Record{}, fmt.Errorf("last %q: %w", category, err)
	}

	rec.Received, err = time.Parse(time.RFC3339Nano, received)
	if err != nil {
		return Record{}, fmt.Errorf("last %q: bad timestamp: %w", category, err)
	}
	return rec, nil
}

func (s *Store) evict() {
	for s.cachedSize > s.maxBytes {
		freed, err := s.deleteOldest()
		if err != nil {
			telemetry.Warnf("diaglog: eviction failed: %v", err)
			break
		}
		if freed == 0 {
			telemetry.Warnf("diaglog: eviction freed 0 bytes, cachedSize=%d", s.cachedSize)
			break
		}
		s.cachedSize -= freed
		s.evictCounter++
		telemetry.Metrics.DiagOverflows.Inc()

		if s.evictCounter%vacuumInterval == 0 {
			if _, err := s.db.Exec(`PRAGMA incremental_vacuum`); err != nil {
				telemetry.Warnf("diaglog: incremental_vacuum failed: %v", err)
			}
		}
	}
}

// deleteOldest removes one batch of rows from the front of the log and
// returns the payload bytes freed. sqlite rejects DELETE inside a CTE, so
// RETURNING runs as the top-level statement and the sizes are summed here.
func (s *Store) deleteOldest() (int64, error) {
	rows, err := s.db.Query(
		`DELETE FROM diag_logs
		 WHERE id IN (SELECT id FROM diag_logs ORDER BY id ASC LIMIT ?)
		 RETURNING byte_size`,
		s.evictBatch,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var freed int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return freed, err
		}
		freed += n
	}
	return freed, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
