package models

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses stored in workout_sessions.status.
const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
)

// ProgramActive is the programs.status of the program the resolver reads.
const ProgramActive = "active"

// ItemTypeExercise marks workout_items rows that are exercises (as opposed
// to notes or warm-up blocks).
const ItemTypeExercise = "exercise"

// StudentRow is a row of the students table.
type StudentRow struct {
	ID     string
	UserID string
	Name   string
}

// ProgramRow is a row of the programs table.
type ProgramRow struct {
	ID        string
	StudentID string
	Name      string
	Status    string
}

// ProgramWorkoutRow is a row of the program_workouts table.
type ProgramWorkoutRow struct {
	ID            string
	ProgramID     string
	Name          string
	OrderIndex    int32
	ScheduledDays []int32
}

// WorkoutItemRow is a row of the workout_items table. Nullable columns are
// pointers.
type WorkoutItemRow struct {
	ID           string
	WorkoutID    string
	ItemType     string
	ExerciseName *string
	Sets         *int32
	Reps         *string
	RestSeconds  *int32
	TargetWeight *float64
	OrderIndex   int32
}

// WorkoutSessionRow is a row of the workout_sessions table.
type WorkoutSessionRow struct {
	ID          uuid.UUID  `json:"id"`
	StudentID   string     `json:"student_id"`
	WorkoutID   string     `json:"workout_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RPE         *float64   `json:"rpe,omitempty"`
	Source      string     `json:"source"`
}

// SessionSetLogRow is a row of the session_set_logs table.
type SessionSetLogRow struct {
	SessionID  uuid.UUID
	ExerciseID string
	SetIndex   int
	Reps       *float64
	Weight     *float64
	Completed  bool
	LoggedAt   time.Time
}
