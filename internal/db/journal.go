package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AlertRecord is one dispatched alert.
type AlertRecord struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Lane         string    `json:"lane"`
	Confidence   *float64  `json:"confidence,omitempty"`
	VehicleCount *float64  `json:"vehicle_count,omitempty"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecordAlert stores a. Recording the same ID twice is an error.
func (db *DB) RecordAlert(ctx context.Context, a AlertRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, kind, lane, confidence, vehicle_count, message, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.Lane, nullFloat(a.Confidence), nullFloat(a.VehicleCount), a.Message, formatTime(a.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("record alert %s: %w", a.ID, err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (db *DB) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT alert_id, kind, lane, confidence, vehicle_count, message, ts
		 FROM alerts ORDER BY ts DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var a AlertRecord
		var conf, count sql.NullFloat64
		var ts string
		if err := rows.Scan(&a.ID, &a.Kind, &a.Lane, &conf, &count, &a.Message, &ts); err != nil {
			return nil, err
		}
		a.Confidence = floatPtr(conf)
		a.VehicleCount = floatPtr(count)
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("alert %s: bad timestamp %q: %w", a.ID, ts, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SwitchRecord is one completed change of green.
type SwitchRecord struct {
	ID     int64              `json:"id"`
	From   string             `json:"from,omitempty"`
	To     string             `json:"to"`
	Reason string             `json:"reason"`
	Counts map[string]float64 `json:"counts,omitempty"`
	At     time.Time          `json:"at"`
}

// RecordSwitch stores s and returns its row id.
func (db *DB) RecordSwitch(ctx context.Context, s SwitchRecord) (int64, error) {
	counts := s.Counts
	if counts == nil {
		counts = map[string]float64{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO signal_switches (from_lane, to_lane, reason, counts_json, ts) VALUES (?, ?, ?, ?, ?)`,
		s.From, s.To, s.Reason, string(b), formatTime(s.At),
	)
	if err != nil {
		return 0, fmt.Errorf("record switch to %s: %w", s.To, err)
	}
	return res.LastInsertId()
}

// RecentSwitches returns up to limit switches, newest first.
func (db *DB) RecentSwitches(ctx context.Context, limit int) ([]SwitchRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT switch_id, from_lane, to_lane, reason, counts_json, ts
		 FROM signal_switches ORDER BY switch_id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SwitchRecord
	for rows.Next() {
		var s SwitchRecord
		var counts, ts string
		if err := rows.Scan(&s.ID, &s.From, &s.To, &s.Reason, &counts, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(counts), &s.Counts); err != nil {
			return nil, fmt.Errorf("switch %d: bad counts: %w", s.ID, err)
		}
		if len(s.Counts) == 0 {
			s.Counts = nil
		}
		if s.At, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("switch %d: bad timestamp %q: %w", s.ID, ts, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LaneObservation is a periodic snapshot of one lane's smoothed result.
type LaneObservation struct {
	Lane          string    `json:"lane"`
	SmoothedCount float64   `json:"smoothed_count"`
	Emergency     bool      `json:"emergency"`
	Accident      bool      `json:"accident"`
	ObservedAt    time.Time `json:"observed_at"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// RecordLaneObservations stores obs in one transaction.
func (db *DB) RecordLaneObservations(ctx context.Context, obs []LaneObservation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lane_observations (lane, smoothed_count, emergency, accident, observed_at, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.Lane, o.SmoothedCount, boolInt(o.Emergency), boolInt(o.Accident),
			formatTime(o.ObservedAt), formatTime(o.RecordedAt)); err != nil {
			return fmt.Errorf("record %s observation: %w", o.Lane, err)
		}
	}
	return tx.Commit()
}

// LaneObservations returns a lane's snapshots recorded at or after since,
// oldest first, at most limit rows.
func (db *DB) LaneObservations(ctx context.Context, lane string, since time.Time, limit int) ([]LaneObservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT lane, smoothed_count, emergency, accident, observed_at, ts
		 FROM lane_observations WHERE lane = ? AND ts >= ?
		 ORDER BY ts ASC, observation_id ASC LIMIT ?`,
		lane, formatTime(since), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LaneObservation
	for rows.Next() {
		var o LaneObservation
		var emergency, accident int
		var observed, recorded string
		if err := rows.Scan(&o.Lane, &o.SmoothedCount, &emergency, &accident, &observed, &recorded); err != nil {
			return nil, err
		}
		o.Emergency, o.Accident = emergency != 0, accident != 0
		if o.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		if o.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MaxLimit caps every listing query.
const MaxLimit = 1000

func clampLimit(n int) int {
	if n <= 0 || n > MaxLimit {
		return MaxLimit
	}
	return n
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
