package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/fieldops/ftc-queueing/internal/events"
)

// ErrNotFound is returned for point lookups of unknown team or match numbers.
var ErrNotFound = errors.New("schedule: not found")

// Match is the authoritative schedule record for one match.
type Match struct {
	Number    int
	ShortName string
	Field     int
	Red1      int
	Red2      int
	Blue1     int
	Blue2     int
	Announced bool
}

// Teams lists the four competing team numbers, red alliance first.
func (m Match) Teams() [4]int {
	return [4]int{m.Red1, m.Red2, m.Blue1, m.Blue2}
}

// Store owns Match and Team state in a SQLite database. All mutation goes
// through its methods; announced only ever transitions false→true.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS matches (
			number     INTEGER PRIMARY KEY,
			short_name TEXT    NOT NULL DEFAULT '',
			field      INTEGER NOT NULL DEFAULT 0,
			red1       INTEGER NOT NULL DEFAULT 0,
			red2       INTEGER NOT NULL DEFAULT 0,
			blue1      INTEGER NOT NULL DEFAULT 0,
			blue2      INTEGER NOT NULL DEFAULT 0,
			announced  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			team_number     INTEGER PRIMARY KEY,
			discord_role_id INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schedule schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// RegisterFunc allocates a notification target for a team number.
// Registration must succeed for the team to be stored at all.
type RegisterFunc func(ctx context.Context, teamNumber int) (int64, error)

// UpsertTeams inserts unknown team numbers after allocating a role for
// each; known numbers are skipped and their role is untouched. Returns the
// created/skipped partition. A registration failure aborts the batch after
// the teams already committed.
func (s *Store) UpsertTeams(ctx context.Context, numbers []int, register RegisterFunc) (created, skipped []int, err error) {
	created = []int{}
	skipped = []int{}

	for _, n := range numbers {
		s.mu.Lock()
		var existing int64
		lookupErr := s.db.QueryRowContext(ctx,
			`SELECT discord_role_id FROM teams WHERE team_number = ?`, n).Scan(&existing)
		s.mu.Unlock()

		switch {
		case lookupErr == nil:
			skipped = append(skipped, n)
			continue
		case !errors.Is(lookupErr, sql.ErrNoRows):
			return created, skipped, fmt.Errorf("lookup team %d: %w", n, lookupErr)
		}

		roleID, regErr := register(ctx, n)
		if regErr != nil {
			return created, skipped, fmt.Errorf("register team %d: %w", n, regErr)
		}

		s.mu.Lock()
		// INSERT OR IGNORE: a racing registration of the same number keeps
		// whichever role landed first; the target never changes afterwards.
		_, insErr := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO teams (team_number, discord_role_id) VALUES (?, ?)`, n, roleID)
		s.mu.Unlock()
		if insErr != nil {
			return created, skipped, fmt.Errorf("insert team %d: %w", n, insErr)
		}
		created = append(created, n)
	}

	return created, skipped, nil
}

// UpsertMatches applies partial match records in order. A new number is
// inserted with announced=false; an existing one has only the fields the
// seed carries overwritten. Applying the same seed twice is a no-op the
// second time.
func (s *Store) UpsertMatches(ctx context.Context, seeds []events.MatchSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seed := range seeds {
		if seed.Number <= 0 {
			return fmt.Errorf("upsert match: invalid number %d", seed.Number)
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO matches (number, short_name, field, red1, red2, blue1, blue2, announced)
			 VALUES (?, COALESCE(?, ''), COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), 0)
			 ON CONFLICT(number) DO UPDATE SET
				short_name = COALESCE(?, short_name),
				field      = COALESCE(?, field),
				red1       = COALESCE(?, red1),
				red2       = COALESCE(?, red2),
				blue1      = COALESCE(?, blue1),
				blue2      = COALESCE(?, blue2)`,
			seed.Number,
			seed.ShortName, seed.Field, seed.Red1, seed.Red2, seed.Blue1, seed.Blue2,
			seed.ShortName, seed.Field, seed.Red1, seed.Red2, seed.Blue1, seed.Blue2,
		)
		if err != nil {
			return fmt.Errorf("upsert match %d: %w", seed.Number, err)
		}
	}
	return nil
}

// MatchesFrom returns up to limit matches with number >= from, ascending.
func (s *Store) MatchesFrom(ctx context.Context, from, limit int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT number, short_name, field, red1, red2, blue1, blue2, announced
		 FROM matches WHERE number >= ? ORDER BY number ASC LIMIT ?`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("matches from %d: %w", from, err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var announced int
		if err := rows.Scan(&m.Number, &m.ShortName, &m.Field, &m.Red1, &m.Red2, &m.Blue1, &m.Blue2, &announced); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Announced = announced != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("matches from %d: %w", from, err)
	}
	return out, nil
}

// MarkAnnounced flips a match to announced. Idempotent: the single-row
// compare-and-set reports whether this call performed the transition, so
// concurrent duplicate match-start deliveries race safely.
func (s *Store) MarkAnnounced(ctx context.Context, number int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET announced = 1 WHERE number = ? AND announced = 0`, number)
	if err != nil {
		return false, fmt.Errorf("mark announced %d: %w", number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark announced %d: %w", number, err)
	}
	return n > 0, nil
}

// TeamRole resolves a team number to its Discord role ID.
func (s *Store) TeamRole(ctx context.Context, teamNumber int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var roleID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT discord_role_id FROM teams WHERE team_number = ?`, teamNumber).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("team %d: %w", teamNumber, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("team role %d: %w", teamNumber, err)
	}
	return roleID, nil
}

// Reset wipes all match and team state and returns the role IDs that were
// registered so the caller can delete them from the platform.
func (s *Store) Reset(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT discord_role_id FROM teams`)
	if err != nil {
		return nil, fmt.Errorf("reset: list roles: %w", err)
	}
	var roleIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reset: scan role: %w", err)
		}
		roleIDs = append(roleIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reset: list roles: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reset: begin: %w", err)
	}
	for _, stmt := range []string{`DELETE FROM matches`, `DELETE FROM teams`} {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("reset: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reset: commit: %w", err)
	}
	return roleIDs, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
