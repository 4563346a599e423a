// Package journal keeps an optional SQLite log of node cycles for later inspection.
// The node never reads it back.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"jimtransmit/internal/node"
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is one recorded cycle.
type Entry struct {
	ID           int64
	BootID       string
	Seq          uint64
	At           time.Time
	TemperatureC float64
	BatteryV     float64
	Payload      string
	Result       node.Result
	BlinkMS      int64
	State        string
	Degraded     bool
	ReplyFrom    *int64
	Reply        *string
}

type Journal struct {
	db     *sql.DB
	bootID string
}

// New wraps an already migrated database. Every Journal gets its own boot id so
// rows from separate runs can be told apart.
func New(db *sql.DB) *Journal {
	return &Journal{
		db:     db,
		bootID: strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

func (j *Journal) BootID() string { return j.bootID }

// Record implements node.Observer.
func (j *Journal) Record(ctx context.Context, o node.Outcome) error {
	var replyFrom sql.NullInt64
	var reply sql.NullString
	if o.Reply != nil {
		replyFrom = sql.NullInt64{Int64: int64(o.Reply.From), Valid: true}
		reply = sql.NullString{String: string(o.Reply.Payload), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO cycles (boot_id, seq, ts, temperature_c, battery_v, payload, result, blink_ms, state, degraded, reply_from, reply)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.bootID,
		int64(o.Seq),
		o.At.UTC().Format(tsLayout),
		o.Reading.TemperatureC,
		o.Reading.BatteryV,
		o.Payload,
		string(o.Result),
		o.Blink.Duration().Milliseconds(),
		o.State.String(),
		o.Degraded,
		replyFrom,
		reply,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, boot_id, seq, ts, temperature_c, battery_v, payload, result, blink_ms, state, degraded, reply_from, reply
		FROM cycles
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			seq       int64
			ts        string
			result    string
			replyFrom sql.NullInt64
			reply     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.BootID, &seq, &ts, &e.TemperatureC, &e.BatteryV, &e.Payload,
			&result, &e.BlinkMS, &e.State, &e.Degraded, &replyFrom, &reply); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		e.Seq = uint64(seq)
		e.Result = node.Result(result)
		if e.At, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("cycle %d timestamp %q: %w", e.ID, ts, err)
		}
		if replyFrom.Valid {
			v := replyFrom.Int64
			e.ReplyFrom = &v
		}
		if reply.Valid {
			v := reply.String
			e.Reply = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
