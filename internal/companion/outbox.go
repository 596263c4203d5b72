// Package companion is the watch side of the bridge: it shows the context the
// phone pushes, emits workout events, and keeps finished workouts in a local
// outbox until the phone acknowledges them.
package companion

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// PendingFinish is an outbox entry awaiting FINISH_WORKOUT_ACK.
type PendingFinish struct {
	Event     watch.FinishWorkoutEvent
	CreatedAt time.Time
	Attempts  int
}

// Outbox holds finished workouts the phone has not acknowledged yet. Entries
// are keyed by finish ID, so finishing the same workout twice while the phone
// is away keeps both runs. Entries survive restarts.
type Outbox struct {
	db *sql.DB
}

// OpenOutbox opens (or creates) the SQLite outbox at dir/outbox.db.
func OpenOutbox(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating outbox dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "outbox.db"))
	if err != nil {
		return nil, fmt.Errorf("opening outbox: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS pending_finishes (
		finish_id  TEXT PRIMARY KEY,
		workout_id TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating outbox table: %w", err)
	}

	return &Outbox{db: db}, nil
}

// Add stores ev under ev.FinishID. Adding the same finish ID again replaces
// the stored event.
func (o *Outbox) Add(ev watch.FinishWorkoutEvent) error {
	if ev.FinishID == "" {
		return fmt.Errorf("storing finish %s: finish id is required", ev.WorkoutID)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding finish: %w", err)
	}
	_, err = o.db.Exec(
		`INSERT INTO pending_finishes (finish_id, workout_id, payload, created_at, attempts)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT (finish_id) DO UPDATE SET payload = excluded.payload`,
		ev.FinishID, ev.WorkoutID, string(payload), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storing finish %s: %w", ev.WorkoutID, err)
	}
	return nil
}

// Pending returns every unacknowledged finish, oldest first.
func (o *Outbox) Pending() ([]PendingFinish, error) {
	rows, err := o.db.Query(
		`SELECT payload, created_at, attempts FROM pending_finishes ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing outbox: %w", err)
	}
	defer rows.Close()

	var out []PendingFinish
	for rows.Next() {
		var payload, created string
		var p PendingFinish
		if err := rows.Scan(&payload, &created, &p.Attempts); err != nil {
			return nil, fmt.Errorf("scanning outbox: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &p.Event); err != nil {
			return nil, fmt.Errorf("decoding outbox entry: %w", err)
		}
		p.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkAttempt counts one send of finishID.
func (o *Outbox) MarkAttempt(finishID string) error {
	_, err := o.db.Exec(`UPDATE pending_finishes SET attempts = attempts + 1 WHERE finish_id = ?`, finishID)
	return err
}

// Remove drops the entry an ack names. An ack with a finish ID removes that
// entry only; one without removes the oldest entry for the workout. It
// reports whether an entry existed.
func (o *Outbox) Remove(ack watch.AckPayload) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if ack.FinishID != "" {
		res, err = o.db.Exec(`DELETE FROM pending_finishes WHERE finish_id = ?`, ack.FinishID)
	} else {
		res, err = o.db.Exec(
			`DELETE FROM pending_finishes WHERE finish_id = (
				SELECT finish_id FROM pending_finishes WHERE workout_id = ?
				ORDER BY created_at ASC, rowid ASC LIMIT 1)`, ack.WorkoutID)
	}
	if err != nil {
		return false, fmt.Errorf("removing finish %s: %w", ack.WorkoutID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the outbox database.
func (o *Outbox) Close() error {
	return o.db.Close()
}
