package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/models"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
	"github.com/jackc/pgx/v5"
)

var _ watch.QuerySource = (*DB)(nil)

// GetStudent returns the student linked to an auth user, or nil if none.
func (db *DB) GetStudent(ctx context.Context, userID string) (*watch.Student, error) {
	var r models.StudentRow
	err := db.Pool.QueryRow(ctx,
		`SELECT id, user_id, name FROM students WHERE user_id = $1`, userID).
		Scan(&r.ID, &r.UserID, &r.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying student: %w", err)
	}
	return &watch.Student{ID: r.ID, Name: r.Name}, nil
}

// GetActiveProgram returns the student's active program, or nil if none.
// With several active programs the newest wins.
func (db *DB) GetActiveProgram(ctx context.Context, studentID string) (*watch.Program, error) {
	var r models.ProgramRow
	err := db.Pool.QueryRow(ctx,
		`SELECT id, student_id, name, status FROM programs
		 WHERE student_id = $1 AND status = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, studentID, models.ProgramActive).
		Scan(&r.ID, &r.StudentID, &r.Name, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active program: %w", err)
	}
	return &watch.Program{ID: r.ID, Name: r.Name}, nil
}

// ListWorkouts returns the program's workouts ordered by order_index.
func (db *DB) ListWorkouts(ctx context.Context, programID string) ([]watch.Workout, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, program_id, name, order_index, scheduled_days
		 FROM program_workouts
		 WHERE program_id = $1
		 ORDER BY order_index ASC, id ASC`, programID)
	if err != nil {
		return nil, fmt.Errorf("querying workouts: %w", err)
	}
	defer rows.Close()

	var result []watch.Workout
	for rows.Next() {
		var r models.ProgramWorkoutRow
		if err := rows.Scan(&r.ID, &r.ProgramID, &r.Name, &r.OrderIndex, &r.ScheduledDays); err != nil {
			return nil, fmt.Errorf("scanning workout: %w", err)
		}
		result = append(result, workoutFromRow(r))
	}
	return result, rows.Err()
}

// completedTodayQuery selects the program's workouts with a completed
// session that started inside [$3, $4). A run finished or redelivered on a
// later day still belongs to the day it started.
const completedTodayQuery = `SELECT DISTINCT s.workout_id
	 FROM workout_sessions s
	 JOIN program_workouts w ON w.id = s.workout_id
	 WHERE w.program_id = $1
	   AND s.status = $2
	   AND s.started_at >= $3 AND s.started_at < $4`

// ListCompletedToday returns the IDs of the program's workouts that have a
// completed session started inside day.
func (db *DB) ListCompletedToday(ctx context.Context, programID string, day watch.DayWindow) (map[string]bool, error) {
	rows, err := db.Pool.Query(ctx, completedTodayQuery,
		programID, models.SessionCompleted, day.Start, day.End)
	if err != nil {
		return nil, fmt.Errorf("querying completed sessions: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning completed session: %w", err)
		}
		done[id] = true
	}
	return done, rows.Err()
}

// ListExerciseItems returns the workout's exercise rows in display order.
func (db *DB) ListExerciseItems(ctx context.Context, workoutID string) ([]watch.ExerciseItem, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, workout_id, item_type, exercise_name, sets, reps, rest_seconds, target_weight, order_index
		 FROM workout_items
		 WHERE workout_id = $1 AND item_type = $2
		 ORDER BY order_index ASC, id ASC`, workoutID, models.ItemTypeExercise)
	if err != nil {
		return nil, fmt.Errorf("querying exercise items: %w", err)
	}
	defer rows.Close()

	var result []watch.ExerciseItem
	for rows.Next() {
		var r models.WorkoutItemRow
		if err := rows.Scan(&r.ID, &r.WorkoutID, &r.ItemType, &r.ExerciseName, &r.Sets,
			&r.Reps, &r.RestSeconds, &r.TargetWeight, &r.OrderIndex); err != nil {
			return nil, fmt.Errorf("scanning exercise item: %w", err)
		}
		result = append(result, exerciseItemFromRow(r))
	}
	return result, rows.Err()
}

// workoutFromRow drops scheduled days outside 0..6.
func workoutFromRow(r models.ProgramWorkoutRow) watch.Workout {
	w := watch.Workout{ID: r.ID, Name: r.Name, OrderIndex: int(r.OrderIndex)}
	for _, d := range r.ScheduledDays {
		if d >= 0 && d <= 6 {
			w.ScheduledDays = append(w.ScheduledDays, int(d))
		}
	}
	return w
}

func exerciseItemFromRow(r models.WorkoutItemRow) watch.ExerciseItem {
	item := watch.ExerciseItem{
		ID:           r.ID,
		Reps:         r.Reps,
		TargetWeight: r.TargetWeight,
	}
	if r.ExerciseName != nil {
		item.Name = *r.ExerciseName
	}
	if r.Sets != nil {
		v := int(*r.Sets)
		item.Sets = &v
	}
	if r.RestSeconds != nil {
		v := int(*r.RestSeconds)
		item.RestSeconds = &v
	}
	return item
}
