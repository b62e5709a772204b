package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/servotrace/internal/modulelog"
)

// Session describes one exported logging run.
type Session struct {
	ID        string
	Prefix    string
	Profile   string
	Source    string
	StartedAt float64
}

// Sink writes module log tables into the database. Each WriteTables call
// creates a new session row and inserts every table in one transaction.
type Sink struct {
	db      *DB
	Prefix  string
	Profile string
	Source  string
	// StartedAt is the session start in seconds since the epoch.
	StartedAt float64
	// Sessions holds the ids created by this sink, oldest first.
	Sessions []string
}

// NewSink returns a Sink writing to db.
func NewSink(db *DB, prefix, profile, source string, startedAt float64) *Sink {
	return &Sink{db: db, Prefix: prefix, Profile: profile, Source: source, StartedAt: startedAt}
}

// WriteTables implements modulelog.Sink.
func (s *Sink) WriteTables(ctx context.Context, tables []modulelog.Table) error {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, prefix, profile, source, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, s.Prefix, s.Profile, s.Source, s.StartedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	cmdStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO command_samples (session_id, module_id, command_id, timestamp, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare command insert: %w", err)
	}
	defer cmdStmt.Close()
	servoStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO servo_samples (session_id, module_id, command_id, timestamp, current, velocity, position, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare servo insert: %w", err)
	}
	defer servoStmt.Close()

	for _, t := range tables {
		if err := insertTable(ctx, id, t, cmdStmt, servoStmt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	s.Sessions = append(s.Sessions, id)
	return nil
}

func insertTable(ctx context.Context, session string, t modulelog.Table, cmdStmt, servoStmt *sql.Stmt) error {
	switch t.Kind {
	case modulelog.KindServo:
		for _, v := range t.Servos {
			if _, err := servoStmt.ExecContext(ctx, session, v.ModuleID, v.CommandID, v.Timestamp,
				v.Current, v.Velocity, v.Position, v.Error); err != nil {
				return fmt.Errorf("insert servo sample for module %d: %w", t.ModuleID, err)
			}
		}
	default:
		for _, v := range t.Commands {
			if _, err := cmdStmt.ExecContext(ctx, session, v.ModuleID, v.CommandID, v.Timestamp, v.Value); err != nil {
				return fmt.Errorf("insert command sample for module %d: %w", t.ModuleID, err)
			}
		}
	}
	return nil
}

// ListSessions returns exported sessions, oldest first.
func (db *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, prefix, profile, source, started_at FROM sessions ORDER BY started_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Prefix, &s.Profile, &s.Source, &s.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CommandRows returns the command samples of one session and module in
// timestamp order.
func (db *DB) CommandRows(ctx context.Context, session string, module uint8) ([]CommandRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT command_id, module_id, timestamp, value FROM command_samples
		 WHERE session_id = ? AND module_id = ? ORDER BY timestamp, rowid`, session, module)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		if err := rows.Scan(&r.CommandID, &r.ModuleID, &r.Timestamp, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommandRow is a stored command sample.
type CommandRow struct {
	CommandID uint32
	ModuleID  uint8
	Timestamp float64
	Value     int32
}

// CommandIDHex renders the command id the way the CSV export does.
func (r CommandRow) CommandIDHex() string { return modulelog.FormatCommandID(r.CommandID) }

// ModuleCount is the number of stored rows for one module.
type ModuleCount struct {
	Commands int
	Servos   int
}

// ModuleCounts returns the row counts per module for a session.
func (db *DB) ModuleCounts(ctx context.Context, session string) (map[uint8]ModuleCount, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT module_id, SUM(cmd), SUM(servo) FROM (
			SELECT module_id, 1 AS cmd, 0 AS servo FROM command_samples WHERE session_id = ?
			UNION ALL
			SELECT module_id, 0, 1 FROM servo_samples WHERE session_id = ?
		) GROUP BY module_id`, session, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint8]ModuleCount)
	for rows.Next() {
		var mod uint8
		var c ModuleCount
		if err := rows.Scan(&mod, &c.Commands, &c.Servos); err != nil {
			return nil, err
		}
		out[mod] = c
	}
	return out, rows.Err()
}

var _ modulelog.Sink = (*Sink)(nil)
