package watch

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

var monday = time.Date(2026, 10, 12, 9, 30, 0, 0, time.UTC)

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func floatPtr(v float64) *float64 { return &v }

func newSource(workouts []Workout) *fakeSource {
	return &fakeSource{
		student:   &Student{ID: "s1", Name: "Ana"},
		program:   &Program{ID: "p1", Name: "Hipertrofia"},
		workouts:  workouts,
		completed: map[string]bool{},
		items: map[string][]ExerciseItem{
			"A": {{ID: "a1", Name: "Supino"}},
			"B": {{ID: "b1", Name: "Agachamento"}},
			"C": {{ID: "c1", Name: "Remada"}},
		},
	}
}

func resolveID(t *testing.T, src *fakeSource, now time.Time) string {
	t.Helper()
	snap := NewResolver(src, time.UTC, discardLogger()).ResolveAt(context.Background(), "u1", now)
	if snap == nil {
		return ""
	}
	return snap.WorkoutID
}

// TestResolveScheduledBothToday covers the worked example: A and B are both
// scheduled on Monday and nothing is done, so the lower order index wins.
func TestResolveScheduledBothToday(t *testing.T) {
	src := newSource([]Workout{
		{ID: "B", OrderIndex: 1, ScheduledDays: []int{1}},
		{ID: "A", OrderIndex: 0, ScheduledDays: []int{1, 3, 5}},
	})
	if got := resolveID(t, src, monday); got != "A" {
		t.Errorf("resolved = %q, want A", got)
	}
}

// TestResolveSchedulePriority verifies that with two workouts scheduled today
// and one completed, the other one is returned.
func TestResolveSchedulePriority(t *testing.T) {
	src := newSource([]Workout{
		{ID: "A", OrderIndex: 0, ScheduledDays: []int{1}},
		{ID: "B", OrderIndex: 1, ScheduledDays: []int{1}},
		{ID: "C", OrderIndex: 2, ScheduledDays: []int{2}},
	})

	src.completed = map[string]bool{"A": true}
	if got := resolveID(t, src, monday); got != "B" {
		t.Errorf("A done: resolved = %q, want B", got)
	}

	src.completed = map[string]bool{"B": true}
	if got := resolveID(t, src, monday); got != "A" {
		t.Errorf("B done: resolved = %q, want A", got)
	}
}

func TestResolveRestDay(t *testing.T) {
	src := newSource([]Workout{
		{ID: "A", OrderIndex: 0, ScheduledDays: []int{2, 4}},
		{ID: "B", OrderIndex: 1}, // unscheduled, ignored once any workout uses days
	})
	if got := resolveID(t, src, monday); got != "" {
		t.Errorf("resolved = %q, want none (rest day)", got)
	}
}

func TestResolveAllDone(t *testing.T) {
	src := newSource([]Workout{
		{ID: "A", OrderIndex: 0, ScheduledDays: []int{1}},
		{ID: "B", OrderIndex: 1, ScheduledDays: []int{1}},
		{ID: "C", OrderIndex: 2, ScheduledDays: []int{3}},
	})
	src.completed = map[string]bool{"A": true, "B": true}
	if got := resolveID(t, src, monday); got != "" {
		t.Errorf("resolved = %q, want none (all done)", got)
	}
}

// TestResolveFreeSchedule verifies that without scheduled days the first
// uncompleted workout wins regardless of weekday.
func TestResolveFreeSchedule(t *testing.T) {
	src := newSource([]Workout{
		{ID: "C", OrderIndex: 2},
		{ID: "A", OrderIndex: 0},
		{ID: "B", OrderIndex: 1},
	})
	src.completed = map[string]bool{"A": true}

	for d := 0; d < 7; d++ {
		now := monday.AddDate(0, 0, d)
		if got := resolveID(t, src, now); got != "B" {
			t.Errorf("%s: resolved = %q, want B", now.Weekday(), got)
		}
	}

	src.completed = map[string]bool{"A": true, "B": true, "C": true}
	if got := resolveID(t, src, monday); got != "" {
		t.Errorf("all complete: resolved = %q, want none", got)
	}
}

func TestResolveNoStudentProgramOrWorkouts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeSource)
	}{
		{"no student", func(s *fakeSource) { s.student = nil }},
		{"no program", func(s *fakeSource) { s.program = nil }},
		{"no workouts", func(s *fakeSource) { s.workouts = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSource([]Workout{{ID: "A"}})
			tt.mutate(src)
			if got := resolveID(t, src, monday); got != "" {
				t.Errorf("resolved = %q, want none", got)
			}
		})
	}
}

// TestResolveFailsClosed verifies every query failure yields no workout.
func TestResolveFailsClosed(t *testing.T) {
	for _, op := range []string{"GetStudent", "GetActiveProgram", "ListWorkouts", "ListCompletedToday", "ListExerciseItems"} {
		t.Run(op, func(t *testing.T) {
			src := newSource([]Workout{{ID: "A"}})
			src.errs = map[string]error{op: errors.New("connection refused")}
			if got := resolveID(t, src, monday); got != "" {
				t.Errorf("resolved = %q, want none", got)
			}
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	src := newSource([]Workout{
		{ID: "A", OrderIndex: 0, ScheduledDays: []int{1}},
		{ID: "B", OrderIndex: 1, ScheduledDays: []int{1}},
	})
	r := NewResolver(src, time.UTC, discardLogger())
	first := r.ResolveAt(context.Background(), "u1", monday)
	for i := 0; i < 5; i++ {
		again := r.ResolveAt(context.Background(), "u1", monday)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n got %+v\nwant %+v", i, again, first)
		}
	}
}

// TestResolveUsesLocalDay verifies weekday and day window follow the
// resolver's location, not UTC.
func TestResolveUsesLocalDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	src := newSource([]Workout{
		{ID: "A", OrderIndex: 0, ScheduledDays: []int{0}}, // Sunday
		{ID: "B", OrderIndex: 1, ScheduledDays: []int{1}}, // Monday
	})
	// 01:00 UTC Monday is still Sunday 22:00 in BRT.
	now := time.Date(2026, 10, 12, 1, 0, 0, 0, time.UTC)
	snap := NewResolver(src, loc, discardLogger()).ResolveAt(context.Background(), "u1", now)
	if snap == nil || snap.WorkoutID != "A" {
		t.Fatalf("resolved = %+v, want A", snap)
	}
	wantStart := time.Date(2026, 10, 11, 0, 0, 0, 0, loc)
	if !src.lastDay.Start.Equal(wantStart) {
		t.Errorf("day start = %v, want %v", src.lastDay.Start, wantStart)
	}
	if got := src.lastDay.End.Sub(src.lastDay.Start); got != 24*time.Hour {
		t.Errorf("day length = %v, want 24h", got)
	}
}

func TestDayWindowHalfOpen(t *testing.T) {
	day := DayWindowAt(time.Date(2026, 10, 12, 15, 0, 0, 0, time.UTC))
	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 10, 12, 23, 59, 59, 999_000_000, time.UTC), true},
		{time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 10, 11, 23, 50, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := day.Contains(tt.at); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestSortWorkoutsStableOnTies(t *testing.T) {
	in := []Workout{{ID: "x", OrderIndex: 1}, {ID: "y", OrderIndex: 0}, {ID: "z", OrderIndex: 1}}
	got := SortWorkouts(in)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if !reflect.DeepEqual(ids, []string{"y", "x", "z"}) {
		t.Errorf("order = %v, want [y x z]", ids)
	}
	if in[0].ID != "x" {
		t.Error("SortWorkouts mutated its input")
	}
}

func TestSelectWorkoutOutcomes(t *testing.T) {
	scheduled := []Workout{{ID: "A", ScheduledDays: []int{1}}}
	tests := []struct {
		name      string
		workouts  []Workout
		completed map[string]bool
		want      Outcome
	}{
		{"empty", nil, nil, NoWorkouts},
		{"rest day", scheduled, nil, RestDay},
		{"all done", []Workout{{ID: "A", ScheduledDays: []int{2}}}, map[string]bool{"A": true}, AllDone},
		{"selected", []Workout{{ID: "A", ScheduledDays: []int{2}}}, nil, Selected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := SelectWorkout(tt.workouts, tt.completed, time.Tuesday)
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestBuildSnapshotDefaults verifies item defaults: 3 sets, 60 s rest, reps
// parsed as integer, positional name fallback, zeroed progress.
func TestBuildSnapshotDefaults(t *testing.T) {
	items := []ExerciseItem{
		{ID: "e1", Name: "Supino reto", Sets: intPtr(4), Reps: strPtr("10"), RestSeconds: intPtr(90), TargetWeight: floatPtr(40)},
		{ID: "e2", Name: "", Reps: strPtr("8-12")},
		{ID: "e3", Name: "Prancha", Reps: strPtr("até a falha")},
		{ID: "e4", Name: "  "},
	}
	snap := BuildSnapshot(Student{ID: "s1", Name: "Ana"}, Workout{ID: "W", Name: "Treino A"}, items, monday)

	if snap.WorkoutID != "W" || snap.WorkoutName != "Treino A" || snap.StudentName != "Ana" {
		t.Errorf("labels = %q/%q/%q", snap.WorkoutID, snap.WorkoutName, snap.StudentName)
	}
	if snap.IsActive || snap.CurrentExerciseIndex != 0 || snap.CurrentSetIndex != 0 {
		t.Errorf("cursor = (%d,%d) active=%v, want (0,0) false", snap.CurrentExerciseIndex, snap.CurrentSetIndex, snap.IsActive)
	}
	if !snap.UpdatedAt.Equal(monday) {
		t.Errorf("updatedAt = %v, want %v", snap.UpdatedAt, monday)
	}
	if len(snap.Exercises) != 4 {
		t.Fatalf("exercises = %d, want 4", len(snap.Exercises))
	}

	e := snap.Exercises
	if e[0].Sets != 4 || e[0].Reps != 10 || e[0].RestTime != 90 || e[0].Weight == nil || *e[0].Weight != 40 {
		t.Errorf("e1 = %+v", e[0])
	}
	if e[1].Name != "Exercício 2" || e[1].Sets != 3 || e[1].RestTime != 60 || e[1].Reps != 8 {
		t.Errorf("e2 = %+v", e[1])
	}
	if e[1].TargetReps == nil || *e[1].TargetReps != "8-12" {
		t.Errorf("e2 targetReps = %v, want 8-12", e[1].TargetReps)
	}
	if e[2].Reps != 0 {
		t.Errorf("e3 reps = %d, want 0 for unparseable", e[2].Reps)
	}
	if e[3].Name != "Exercício 4" || e[3].Reps != 0 || e[3].TargetReps != nil {
		t.Errorf("e4 = %+v", e[3])
	}
	for i, ex := range e {
		if ex.CompletedSets != 0 {
			t.Errorf("exercise %d completedSets = %d, want 0", i, ex.CompletedSets)
		}
	}
}
