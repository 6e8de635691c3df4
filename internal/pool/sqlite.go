package pool

import (
	"database/sql"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/steerworks/steer/internal/errors"
)

func errAlreadyClaimed(workspaceID string) error {
	return errors.Newf(errors.CodePoolRegistry, "workspace already claimed: %s", workspaceID)
}

// SQLiteRegistry persists claims in a shared database so every steer
// process observes the same claim count.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (creating if needed) the claims database and
// sweeps claims whose owning process is gone.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.CodePoolRegistry, "opening claims database", err)
	}

	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodePoolRegistry, "migrating claims database", err)
	}
	if err := r.sweepStale(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodePoolRegistry, "sweeping stale claims", err)
	}
	return r, nil
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func (r *SQLiteRegistry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS claims (
		workspace_id TEXT PRIMARY KEY,
		workflow_label TEXT NOT NULL,
		pid INTEGER NOT NULL,
		cl_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// sweepStale removes claims whose owning pid no longer exists. A claim
// left by a crashed runner would otherwise hold a slot forever.
func (r *SQLiteRegistry) sweepStale() error {
	claims, err := r.List()
	if err != nil {
		return err
	}
	for _, c := range claims {
		if pidAlive(c.PID) {
			continue
		}
		if err := r.Remove(c.WorkspaceID); err != nil {
			return err
		}
	}
	return nil
}

// pidAlive reports whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

func (r *SQLiteRegistry) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM claims`).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.CodePoolRegistry, "counting claims", err)
	}
	return count, nil
}

func (r *SQLiteRegistry) List() ([]Claim, error) {
	rows, err := r.db.Query(
		`SELECT workspace_id, workflow_label, pid, cl_name FROM claims ORDER BY workspace_id`)
	if err != nil {
		return nil, errors.Wrap(errors.CodePoolRegistry, "listing claims", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.WorkspaceID, &c.WorkflowLabel, &c.PID, &c.CLName); err != nil {
			return nil, errors.Wrap(errors.CodePoolRegistry, "scanning claim", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *SQLiteRegistry) Add(c Claim) error {
	_, err := r.db.Exec(
		`INSERT INTO claims (workspace_id, workflow_label, pid, cl_name) VALUES (?, ?, ?, ?)`,
		c.WorkspaceID, c.WorkflowLabel, c.PID, c.CLName,
	)
	if err != nil {
		var count int
		if scanErr := r.db.QueryRow(
			`SELECT COUNT(*) FROM claims WHERE workspace_id = ?`, c.WorkspaceID).Scan(&count); scanErr == nil && count > 0 {
			return errAlreadyClaimed(c.WorkspaceID)
		}
		return errors.Wrap(errors.CodePoolRegistry, "adding claim", err)
	}
	return nil
}

func (r *SQLiteRegistry) Remove(workspaceID string) error {
	if _, err := r.db.Exec(`DELETE FROM claims WHERE workspace_id = ?`, workspaceID); err != nil {
		return errors.Wrap(errors.CodePoolRegistry, "removing claim", err)
	}
	return nil
}

var _ Registry = (*SQLiteRegistry)(nil)
