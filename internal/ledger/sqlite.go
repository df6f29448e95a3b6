package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_step (
	position   INTEGER NOT NULL,
	step       TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending',
	updated_at DATETIME NOT NULL,
	error      TEXT
);
`

// SQLiteStore keeps the ledger in a SQLite file.
type SQLiteStore struct {
	path string
	lock *runLock
	db   *sql.DB
	now  func() time.Time
}

// NewSQLiteStore returns a store backed by the SQLite file at path. The
// file is opened lazily.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path, lock: newRunLock(path), now: time.Now}
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "ledger: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "ledger: migrate sqlite")
	}
	s.db = db
	return db, nil
}

// Exists implements Store. A file without a recorded version counts as absent.
func (s *SQLiteStore) Exists(ctx context.Context) (bool, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "ledger: stat %s", s.path)
	}
	db, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM ledger_meta WHERE key = 'version'`).Scan(&n); err != nil {
		return false, eris.Wrap(err, "ledger: read meta")
	}
	return n > 0, nil
}

// Init implements Store.
func (s *SQLiteStore) Init(ctx context.Context, target Target, runID string, steps []string) error {
	if err := s.lock.acquire(); err != nil {
		return err
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "ledger: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{`DELETE FROM ledger_step`, `DELETE FROM ledger_meta`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return eris.Wrap(err, "ledger: clear")
		}
	}
	meta := map[string]string{
		"version":      strconv.Itoa(Version),
		"database_url": target.DatabaseURL,
		"csv_dir":      target.CSVDir,
		"finalize":     target.Finalize,
		"finalize_url": target.FinalizeURL,
		"run_id":       runID,
		"created_at":   now.Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return eris.Wrapf(err, "ledger: insert meta %s", k)
		}
	}
	for i, step := range steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_step (position, step, status, updated_at) VALUES (?, ?, ?, ?)`,
			i, step, string(StatusPending), now,
		); err != nil {
			return eris.Wrapf(err, "ledger: insert step %s", step)
		}
	}
	return eris.Wrap(tx.Commit(), "ledger: commit init")
}

// Resume implements Store.
func (s *SQLiteStore) Resume(ctx context.Context, target Target) error {
	if err := s.lock.acquire(); err != nil {
		return err
	}
	m, err := s.Meta(ctx)
	if err != nil {
		return err
	}
	return checkTarget(m.Target, target)
}

// Meta implements Store.
func (s *SQLiteStore) Meta(ctx context.Context) (Meta, error) {
	db, err := s.open(ctx)
	if err != nil {
		return Meta{}, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM ledger_meta`)
	if err != nil {
		return Meta{}, eris.Wrap(err, "ledger: read meta")
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, eris.Wrap(err, "ledger: scan meta")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, eris.Wrap(err, "ledger: read meta")
	}
	if _, ok := kv["version"]; !ok {
		return Meta{}, eris.Wrapf(ErrNotInitialized, "ledger: %s", s.path)
	}
	v, err := strconv.Atoi(kv["version"])
	if err != nil || v != Version {
		return Meta{}, eris.Wrapf(ErrVersion, "ledger: %s has version %q, want %d", s.path, kv["version"], Version)
	}
	m := Meta{
		Version: v,
		Target: Target{
			DatabaseURL: kv["database_url"],
			CSVDir:      kv["csv_dir"],
			Finalize:    kv["finalize"],
			FinalizeURL: kv["finalize_url"],
		},
		RunID: kv["run_id"],
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, kv["created_at"])
	return m, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, step string) (Entry, error) {
	db, err := s.open(ctx)
	if err != nil {
		return Entry{}, err
	}
	e, err := scanEntry(db.QueryRowContext(ctx,
		`SELECT step, status, updated_at, error FROM ledger_step WHERE step = ?`, step,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, eris.Wrapf(ErrUnknownStep, "ledger: %s", step)
	}
	if err != nil {
		return Entry{}, eris.Wrapf(err, "ledger: get %s", step)
	}
	return e, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, step string, status Status, detail string) error {
	cur, err := s.Get(ctx, step)
	if err != nil {
		return err
	}
	if err := transition(step, cur.Status, status); err != nil {
		return err
	}
	var errText sql.NullString
	if status == StatusFailed {
		errText = sql.NullString{String: detail, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ledger_step SET status = ?, updated_at = ?, error = ? WHERE step = ?`,
		string(status), s.now().UTC(), errText, step,
	)
	return eris.Wrapf(err, "ledger: set %s", step)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Meta(ctx); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT step, status, updated_at, error FROM ledger_step ORDER BY position`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: scan step")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "ledger: list")
}

// Reset implements Store.
func (s *SQLiteStore) Reset(ctx context.Context, steps ...string) error {
	if err := s.lock.acquire(); err != nil {
		return err
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "ledger: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	for _, step := range steps {
		res, err := tx.ExecContext(ctx,
			`UPDATE ledger_step SET status = ?, updated_at = ?, error = NULL WHERE step = ?`,
			string(StatusPending), now, step,
		)
		if err != nil {
			return eris.Wrapf(err, "ledger: reset %s", step)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return eris.Wrapf(ErrUnknownStep, "ledger: %s", step)
		}
	}
	return eris.Wrap(tx.Commit(), "ledger: commit reset")
}

// Close releases the run lock and the database handle.
func (s *SQLiteStore) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	return eris.Wrap(err, "ledger: close")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e       Entry
		status  string
		errText sql.NullString
	)
	if err := r.Scan(&e.Step, &status, &e.UpdatedAt, &errText); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.Error = errText.String
	return e, nil
}
