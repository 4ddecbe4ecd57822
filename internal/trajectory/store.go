package trajectory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DBName is the database file created inside a store directory.
const DBName = "runs.db"

// timeLayout is fixed width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned by LoadRun for an unknown id.
var ErrRunNotFound = stderrors.New("run not found")

// ErrNoStore is returned by OpenExistingStore when a directory holds no run
// database.
var ErrNoStore = stderrors.New("no run store")

// Summary is the listing view of a stored run. HasBest is false for a run
// without an objective value, including one stopped by its first evaluation.
type Summary struct {
	ID           string
	CreatedAt    time.Time
	Source       string
	Direction    string
	StoppedEarly bool
	Entries      int
	BestValue    float64
	HasBest      bool
}

// Store persists finished runs in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the run database inside dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return openDB(filepath.Join(dir, DBName))
}

// OpenExistingStore opens the run database inside dir without creating
// anything; it fails with ErrNoStore when the database file is missing.
func OpenExistingStore(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, DBName)
	info, err := os.Stat(dbPath)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoStore, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("checking store: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", dbPath)
	}
	return openDB(dbPath)
}

func openDB(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(sub); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// SaveRun stores r and returns its id. A run without an id is assigned a new
// UUID; a zero CreatedAt is set to now.
func (s *Store) SaveRun(ctx context.Context, r *Run) (string, error) {
	if r == nil {
		return "", fmt.Errorf("run cannot be nil")
	}
	if err := r.validate(); err != nil {
		return "", fmt.Errorf("invalid run: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	names, err := json.Marshal(r.ParamNames)
	if err != nil {
		return "", fmt.Errorf("marshalling param names: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, source, direction, param_names, stopped_early, best_index, initial_stop)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CreatedAt.UTC().Format(timeLayout), r.Source, r.Direction, string(names),
		boolToInt(r.StoppedEarly), r.BestIndex, boolToInt(r.InitialStop))
	if err != nil {
		return "", fmt.Errorf("saving run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO run_entries (run_id, step, point, value) VALUES (?, ?, ?, ?)")
	if err != nil {
		return "", fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()
	for i, p := range r.Points {
		point, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("marshalling point %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, i, string(point), r.Values[i]); err != nil {
			return "", fmt.Errorf("saving entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return r.ID, nil
}

// LoadRun retrieves a run with all of its entries.
func (s *Store) LoadRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, source, direction, param_names, stopped_early, best_index, initial_stop
		FROM runs WHERE id = ?
	`, id)

	var r Run
	var createdAt, names string
	var stopped, initialStop int
	if err := row.Scan(&r.ID, &createdAt, &r.Source, &r.Direction, &names, &stopped, &r.BestIndex, &initialStop); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.StoppedEarly = stopped != 0
	r.InitialStop = initialStop != 0
	if err := r.setCreatedAt(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(names), &r.ParamNames); err != nil {
		return nil, fmt.Errorf("unmarshaling param names: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT point, value FROM run_entries WHERE run_id = ? ORDER BY step
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	r.Points = [][]float64{}
	r.Values = []float64{}
	for rows.Next() {
		var point string
		var value float64
		if err := rows.Scan(&point, &value); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		var p []float64
		if err := json.Unmarshal([]byte(point), &p); err != nil {
			return nil, fmt.Errorf("unmarshaling point: %w", err)
		}
		r.Points = append(r.Points, p)
		r.Values = append(r.Values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return &r, nil
}

// ListRuns returns every stored run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.created_at, r.source, r.direction, r.stopped_early,
			(SELECT COUNT(*) FROM run_entries e WHERE e.run_id = r.id),
			(SELECT e.value FROM run_entries e
				WHERE e.run_id = r.id AND e.step = r.best_index AND r.initial_stop = 0)
		FROM runs r
		ORDER BY r.created_at DESC, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Summary //nolint:prealloc // size unknown from query
	for rows.Next() {
		var sum Summary
		var createdAt string
		var stopped int
		var best sql.NullFloat64
		if err := rows.Scan(&sum.ID, &createdAt, &sum.Source, &sum.Direction, &stopped, &sum.Entries, &best); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sum.CreatedAt = t
		sum.StoppedEarly = stopped != 0
		sum.BestValue = best.Float64
		sum.HasBest = best.Valid
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}

// DeleteRun removes a run and its entries.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *Run) setCreatedAt(s string) error {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
