package db

import "github.com/banshee-data/facefollow/internal/control"

// TickSink stores every tick it receives. It does not own the database;
// closing the sink leaves it open for the session outcome.
type TickSink struct {
	db *DB
}

func NewTickSink(db *DB) *TickSink { return &TickSink{db: db} }

func (s *TickSink) Name() string { return "flightlog" }

func (s *TickSink) Write(t control.Tick) error { return s.db.RecordTick(t) }

func (s *TickSink) Close() error { return nil }
