package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/models"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
	"github.com/jackc/pgx/v5"
)

// finishNamespace seeds the name-based UUIDs used as finish idempotency keys.
var finishNamespace = uuid.MustParse("5f0c7a3e-9d1b-4c8e-a6f2-3b7d9e1c4a80")

// FinishKey identifies one finished workout across companion resends. It is
// derived only from what the companion sends, so every resend maps to the
// same key: the finishId when present, else startedAt, else the recorded
// rpe and sets.
func FinishKey(studentID string, ev watch.FinishWorkoutEvent) uuid.UUID {
	var run string
	switch {
	case ev.FinishID != "":
		run = "finish:" + ev.FinishID
	case ev.StartedAt != "":
		run = ev.StartedAt
	default:
		body, _ := json.Marshal(struct {
			RPE       float64                  `json:"rpe"`
			Exercises []watch.FinishedExercise `json:"exercises"`
		}{ev.RPE, ev.Exercises})
		run = "content:" + string(body)
	}
	return uuid.NewSHA1(finishNamespace, []byte(studentID+"|"+ev.WorkoutID+"|"+run))
}

// StartSession opens an in-progress session for the workout, or returns the
// one already open.
func (db *DB) StartSession(ctx context.Context, studentID, workoutID string, at time.Time) (uuid.UUID, error) {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO workout_sessions (id, student_id, workout_id, status, started_at, source)
		 VALUES ($1, $2, $3, $4, $5, 'watch')
		 ON CONFLICT (student_id, workout_id) WHERE status = 'in_progress' DO NOTHING`,
		uuid.New(), studentID, workoutID, models.SessionInProgress, at)
	if err != nil {
		return uuid.Nil, fmt.Errorf("starting session: %w", err)
	}

	var id uuid.UUID
	err = db.Pool.QueryRow(ctx,
		`SELECT id FROM workout_sessions
		 WHERE student_id = $1 AND workout_id = $2 AND status = $3`,
		studentID, workoutID, models.SessionInProgress).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("loading open session: %w", err)
	}
	return id, nil
}

// RecordSetProgress logs one completed set against the student's open
// session. It returns false when no session is open for the workout.
func (db *DB) RecordSetProgress(ctx context.Context, studentID, workoutID string, ev watch.SetCompletionEvent, at time.Time) (bool, error) {
	if ev.ExerciseID == "" {
		return false, fmt.Errorf("recording set progress: exercise id is required")
	}

	tag, err := db.Pool.Exec(ctx,
		`INSERT INTO session_set_logs (session_id, exercise_id, set_index, reps, weight, completed, logged_at)
		 SELECT id, $3, $4, $5, $6, TRUE, $7
		 FROM workout_sessions
		 WHERE student_id = $1 AND workout_id = $2 AND status = 'in_progress'
		 ON CONFLICT (session_id, exercise_id, set_index) DO UPDATE
			SET reps = EXCLUDED.reps, weight = EXCLUDED.weight, logged_at = EXCLUDED.logged_at`,
		studentID, workoutID, ev.ExerciseID, ev.SetIndex, ev.Reps, ev.Weight, at)
	if err != nil {
		return false, fmt.Errorf("recording set progress: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordFinishedWorkout stores a FINISH_WORKOUT event. It is idempotent: a
// resend of an already recorded event is a successful no-op. An open session
// for the workout is closed; otherwise a completed session is created.
func (db *DB) RecordFinishedWorkout(ctx context.Context, studentID string, ev watch.FinishWorkoutEvent, receivedAt time.Time) error {
	key := FinishKey(studentID, ev)
	startedAt := receivedAt
	if ev.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339, ev.StartedAt); err == nil {
			startedAt = t
		}
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning finish transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM workout_sessions WHERE finish_key = $1`, key).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("checking finish key: %w", err)
	}

	var sessionID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE workout_sessions
		 SET status = $3, completed_at = $4, rpe = $5, finish_key = $6
		 WHERE student_id = $1 AND workout_id = $2 AND status = 'in_progress'
		 RETURNING id`,
		studentID, ev.WorkoutID, models.SessionCompleted, receivedAt, ev.RPE, key).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx,
			`INSERT INTO workout_sessions (id, student_id, workout_id, status, started_at, completed_at, rpe, source, finish_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 'watch', $8)
			 ON CONFLICT (finish_key) DO NOTHING
			 RETURNING id`,
			uuid.New(), studentID, ev.WorkoutID, models.SessionCompleted, startedAt, receivedAt, ev.RPE, key).Scan(&sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent delivery of the same event won.
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	for _, ex := range ev.Exercises {
		for _, s := range ex.Sets {
			reps, weight := s.Reps, s.Weight
			if _, err := tx.Exec(ctx,
				`INSERT INTO session_set_logs (session_id, exercise_id, set_index, reps, weight, completed, logged_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (session_id, exercise_id, set_index) DO UPDATE
					SET reps = EXCLUDED.reps, weight = EXCLUDED.weight, completed = EXCLUDED.completed`,
				sessionID, ex.ID, s.SetIndex, reps, weight, s.Completed, receivedAt); err != nil {
				return fmt.Errorf("inserting set log: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing finish: %w", err)
	}
	return nil
}

// RecentSessions returns the student's latest sessions, newest first.
func (db *DB) RecentSessions(ctx context.Context, studentID string, limit int) ([]models.WorkoutSessionRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, student_id, workout_id, status, started_at, completed_at, rpe, source
		 FROM workout_sessions
		 WHERE student_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []models.WorkoutSessionRow
	for rows.Next() {
		var r models.WorkoutSessionRow
		if err := rows.Scan(&r.ID, &r.StudentID, &r.WorkoutID, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.RPE, &r.Source); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
