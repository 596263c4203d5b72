package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot defaults for exercise items with missing fields.
const (
	DefaultSets        = 3
	DefaultRestSeconds = 60
)

// Student is the user record the resolver needs.
type Student struct {
	ID   string
	Name string
}

// Program is a student's active training program.
type Program struct {
	ID   string
	Name string
}

// Workout is one workout of a program. ScheduledDays holds weekdays
// (0 = Sunday … 6 = Saturday); empty means not day-scheduled.
type Workout struct {
	ID            string
	Name          string
	OrderIndex    int
	ScheduledDays []int
}

// ExerciseItem is one exercise row of a workout, in display order. Pointer
// fields are nil when the source left them empty.
type ExerciseItem struct {
	ID           string
	Name         string
	Sets         *int
	Reps         *string
	RestSeconds  *int
	TargetWeight *float64
}

// DayWindow is the caller's local "today", half-open: Start is midnight and
// is included, End is the following midnight and is not.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// DayWindowAt returns the local day containing t.
func DayWindowAt(t time.Time) DayWindow {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return DayWindow{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls inside the window.
func (d DayWindow) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// QuerySource answers the resolver's questions about a user's training data.
// Lookups that find nothing return (nil, nil).
type QuerySource interface {
	GetStudent(ctx context.Context, userID string) (*Student, error)
	GetActiveProgram(ctx context.Context, studentID string) (*Program, error)
	ListWorkouts(ctx context.Context, programID string) ([]Workout, error)
	ListCompletedToday(ctx context.Context, programID string, day DayWindow) (map[string]bool, error)
	ListExerciseItems(ctx context.Context, workoutID string) ([]ExerciseItem, error)
}

// Outcome explains why SelectWorkout did or did not pick a workout.
type Outcome int

const (
	Selected Outcome = iota
	NoWorkouts
	RestDay
	AllDone
)

func (o Outcome) String() string {
	switch o {
	case Selected:
		return "selected"
	case NoWorkouts:
		return "no_workouts"
	case RestDay:
		return "rest_day"
	case AllDone:
		return "all_done"
	default:
		return "unknown"
	}
}

// SortWorkouts orders workouts by OrderIndex, keeping insertion order on ties.
func SortWorkouts(workouts []Workout) []Workout {
	sorted := make([]Workout, len(workouts))
	copy(sorted, workouts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OrderIndex < sorted[j].OrderIndex
	})
	return sorted
}

// SelectWorkout picks the workout to show today. workouts must already be
// ordered (see SortWorkouts); completed holds workout IDs with a completed
// session today.
//
// If any workout is day-scheduled, only today's scheduled workouts are
// candidates. Otherwise every workout is. The first candidate without a
// completed session wins.
func SelectWorkout(workouts []Workout, completed map[string]bool, weekday time.Weekday) (Workout, Outcome) {
	if len(workouts) == 0 {
		return Workout{}, NoWorkouts
	}

	usesSchedule := false
	for _, w := range workouts {
		if len(w.ScheduledDays) > 0 {
			usesSchedule = true
			break
		}
	}

	candidates := workouts
	if usesSchedule {
		candidates = nil
		for _, w := range workouts {
			if scheduledOn(w, weekday) {
				candidates = append(candidates, w)
			}
		}
		if len(candidates) == 0 {
			return Workout{}, RestDay
		}
	}

	for _, w := range candidates {
		if !completed[w.ID] {
			return w, Selected
		}
	}
	return Workout{}, AllDone
}

func scheduledOn(w Workout, weekday time.Weekday) bool {
	for _, d := range w.ScheduledDays {
		if d == int(weekday) {
			return true
		}
	}
	return false
}

// BuildSnapshot turns a chosen workout and its exercise items into a
// not-yet-started snapshot.
func BuildSnapshot(student Student, workout Workout, items []ExerciseItem, now time.Time) *WorkoutSnapshot {
	exercises := make([]WorkoutExercise, 0, len(items))
	for i, item := range items {
		ex := WorkoutExercise{
			ID:       item.ID,
			Name:     strings.TrimSpace(item.Name),
			Sets:     DefaultSets,
			RestTime: DefaultRestSeconds,
			Weight:   item.TargetWeight,
		}
		if ex.Name == "" {
			ex.Name = fmt.Sprintf("Exercício %d", i+1)
		}
		if item.Sets != nil {
			ex.Sets = *item.Sets
		}
		if item.RestSeconds != nil {
			ex.RestTime = *item.RestSeconds
		}
		if item.Reps != nil {
			label := strings.TrimSpace(*item.Reps)
			ex.Reps = parseLeadingInt(label)
			if label != "" {
				ex.TargetReps = &label
			}
		}
		exercises = append(exercises, ex)
	}

	return &WorkoutSnapshot{
		WorkoutID:            workout.ID,
		WorkoutName:          workout.Name,
		StudentName:          student.Name,
		Exercises:            exercises,
		CurrentExerciseIndex: 0,
		CurrentSetIndex:      0,
		IsActive:             false,
		UpdatedAt:            now,
	}
}

// parseLeadingInt reads the integer prefix of s ("8-12" → 8, "10" → 10),
// returning 0 when there is none.
func parseLeadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Resolver answers "which workout should the companion show right now".
type Resolver struct {
	src QuerySource
	loc *time.Location
	log *slog.Logger
}

// NewResolver creates a Resolver. loc is the user's local time zone and
// defines "today".
func NewResolver(src QuerySource, loc *time.Location, log *slog.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{src: src, loc: loc, log: log}
}

// Resolve returns the snapshot for userID at the current time, or nil.
func (r *Resolver) Resolve(ctx context.Context, userID string) *WorkoutSnapshot {
	return r.ResolveAt(ctx, userID, time.Now())
}

// ResolveAt is Resolve with an explicit clock. Any query failure resolves to
// nil; the error is logged, never returned.
func (r *Resolver) ResolveAt(ctx context.Context, userID string, now time.Time) *WorkoutSnapshot {
	snap, outcome, err := r.resolve(ctx, userID, now.In(r.loc))
	if err != nil {
		r.log.Warn("next workout unresolved", "user_id", userID, "error", err)
		return nil
	}
	if snap == nil {
		r.log.Debug("no workout to show", "user_id", userID, "reason", outcome)
	}
	return snap
}

func (r *Resolver) resolve(ctx context.Context, userID string, now time.Time) (*WorkoutSnapshot, Outcome, error) {
	student, err := r.src.GetStudent(ctx, userID)
	if err != nil {
		return nil, NoWorkouts, &QueryError{Op: "student", Err: err}
	}
	if student == nil {
		return nil, NoWorkouts, nil
	}

	program, err := r.src.GetActiveProgram(ctx, student.ID)
	if err != nil {
		return nil, NoWorkouts, &QueryError{Op: "active program", Err: err}
	}
	if program == nil {
		return nil, NoWorkouts, nil
	}

	workouts, err := r.src.ListWorkouts(ctx, program.ID)
	if err != nil {
		return nil, NoWorkouts, &QueryError{Op: "workouts", Err: err}
	}
	if len(workouts) == 0 {
		return nil, NoWorkouts, nil
	}
	workouts = SortWorkouts(workouts)

	completed, err := r.src.ListCompletedToday(ctx, program.ID, DayWindowAt(now))
	if err != nil {
		return nil, NoWorkouts, &QueryError{Op: "completed sessions", Err: err}
	}

	chosen, outcome := SelectWorkout(workouts, completed, now.Weekday())
	if outcome != Selected {
		return nil, outcome, nil
	}

	items, err := r.src.ListExerciseItems(ctx, chosen.ID)
	if err != nil {
		return nil, outcome, &QueryError{Op: "exercise items", Err: err}
	}
	return BuildSnapshot(*student, chosen, items, now), outcome, nil
}
