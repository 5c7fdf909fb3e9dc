package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facefollow/internal/control"
)

// SessionInfo is what is known about a session when it starts.
type SessionInfo struct {
	ID      uuid.UUID
	Started time.Time
	Handler string
	Fly     bool
	Track   bool
	Config  any
	Version string
}

// SessionRow is one row of the sessions table.
type SessionRow struct {
	ID      string          `json:"id"`
	Started time.Time       `json:"started"`
	Ended   *time.Time      `json:"ended,omitempty"`
	Handler string          `json:"handler"`
	Fly     bool            `json:"fly"`
	Track   bool            `json:"track"`
	Version string          `json:"version"`
	Outcome string          `json:"outcome,omitempty"`
	Error   string          `json:"error,omitempty"`
	Stats   json.RawMessage `json:"stats,omitempty"`
	Samples int             `json:"samples"`
}

// Sample is one stored control iteration.
type Sample struct {
	Seq        uint64    `json:"seq"`
	FrameSeq   uint64    `json:"frame_seq"`
	At         time.Time `json:"at"`
	State      string    `json:"state"`
	Verdict    string    `json:"verdict"`
	Starved    bool      `json:"starved"`
	TargetX    *int      `json:"target_x,omitempty"`
	TargetY    *int      `json:"target_y,omitempty"`
	PanError   float64   `json:"pan_error"`
	TiltError  float64   `json:"tilt_error"`
	PanOutput  float64   `json:"pan_output"`
	TiltOutput float64   `json:"tilt_output"`
	LatencyUS  int64     `json:"latency_us"`
}

// StartSession inserts the session row.
func (db *DB) StartSession(info SessionInfo) error {
	cfg, err := json.Marshal(info.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	_, err = db.Exec(`INSERT INTO sessions (session_id, started_unix_ns, handler, fly, track, config_json, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID.String(), info.Started.UnixNano(), info.Handler, info.Fly, info.Track, string(cfg), info.Version)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", info.ID, err)
	}
	return nil
}

// EndSession records how the session ended. cause may be nil.
func (db *DB) EndSession(id uuid.UUID, ended time.Time, outcome string, cause error, stats any) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal session stats: %w", err)
	}
	var errText sql.NullString
	if cause != nil {
		errText = sql.NullString{String: cause.Error(), Valid: true}
	}
	res, err := db.Exec(`UPDATE sessions SET ended_unix_ns = ?, outcome = ?, error = ?, stats_json = ?
		WHERE session_id = ?`,
		ended.UnixNano(), outcome, errText, string(statsJSON), id.String())
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RecordTick stores a tick as a sample, plus a command row when a command
// was issued.
func (db *DB) RecordTick(t control.Tick) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var tgtX, tgtY sql.NullInt64
	if t.Target != nil {
		tgtX = sql.NullInt64{Int64: int64(t.Target.X), Valid: true}
		tgtY = sql.NullInt64{Int64: int64(t.Target.Y), Valid: true}
	}
	_, err = tx.Exec(`INSERT INTO samples (session_id, seq, frame_seq, at_unix_ns, state, verdict, starved,
			target_x, target_y, pan_error, tilt_error, pan_output, tilt_output, latency_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Session.String(), t.Seq, t.FrameSeq, t.At.UnixNano(), t.State.String(), t.Verdict, t.Starved,
		tgtX, tgtY, t.Errors.Pan, t.Errors.Tilt, t.Errors.PanOutput, t.Errors.TiltOutput, t.Latency.Microseconds())
	if err != nil {
		return fmt.Errorf("insert sample %d: %w", t.Seq, err)
	}

	if t.Issued {
		_, err = tx.Exec(`INSERT INTO commands (session_id, seq, at_unix_ns, lateral, longitudinal, vertical, yaw)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Session.String(), t.Seq, t.At.UnixNano(),
			t.Command.Lateral, t.Command.Longitudinal, t.Command.Vertical, t.Command.Yaw)
		if err != nil {
			return fmt.Errorf("insert command %d: %w", t.Seq, err)
		}
	}
	return tx.Commit()
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT s.session_id, s.started_unix_ns, s.ended_unix_ns, s.handler, s.fly, s.track,
			s.version, s.outcome, s.error, s.stats_json,
			(SELECT COUNT(*) FROM samples WHERE samples.session_id = s.session_id)
		FROM sessions s ORDER BY s.started_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r                      SessionRow
			started                int64
			ended                  sql.NullInt64
			outcome, errText, stat sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.Handler, &r.Fly, &r.Track,
			&r.Version, &outcome, &errText, &stat, &r.Samples); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, started)
		if ended.Valid {
			e := time.Unix(0, ended.Int64)
			r.Ended = &e
		}
		r.Outcome, r.Error = outcome.String, errText.String
		if stat.Valid {
			r.Stats = json.RawMessage(stat.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Samples returns a session's samples in order.
func (db *DB) Samples(id uuid.UUID) ([]Sample, error) {
	rows, err := db.Query(`SELECT seq, frame_seq, at_unix_ns, state, verdict, starved, target_x, target_y,
			pan_error, tilt_error, pan_output, tilt_output, latency_us
		FROM samples WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			s      Sample
			at     int64
			tx, ty sql.NullInt64
		)
		if err := rows.Scan(&s.Seq, &s.FrameSeq, &at, &s.State, &s.Verdict, &s.Starved, &tx, &ty,
			&s.PanError, &s.TiltError, &s.PanOutput, &s.TiltOutput, &s.LatencyUS); err != nil {
			return nil, err
		}
		s.At = time.Unix(0, at)
		if tx.Valid && ty.Valid {
			x, y := int(tx.Int64), int(ty.Int64)
			s.TargetX, s.TargetY = &x, &y
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Commands returns the commands issued in a session, in order.
func (db *DB) Commands(id uuid.UUID) ([]control.Command, error) {
	rows, err := db.Query(`SELECT lateral, longitudinal, vertical, yaw FROM commands
		WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []control.Command
	for rows.Next() {
		var c control.Command
		if err := rows.Scan(&c.Lateral, &c.Longitudinal, &c.Vertical, &c.Yaw); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommandsBySeq returns the issued commands of a session keyed by sample
// sequence number.
func (db *DB) CommandsBySeq(id uuid.UUID) (map[uint64]control.Command, error) {
	rows, err := db.Query(`SELECT seq, lateral, longitudinal, vertical, yaw FROM commands
		WHERE session_id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uint64]control.Command)
	for rows.Next() {
		var (
			seq uint64
			c   control.Command
		)
		if err := rows.Scan(&seq, &c.Lateral, &c.Longitudinal, &c.Vertical, &c.Yaw); err != nil {
			return nil, err
		}
		out[seq] = c
	}
	return out, rows.Err()
}
