package watch

import (
	"reflect"
	"testing"
	"time"
)

func sampleSnapshot() *WorkoutSnapshot {
	label := "8-12"
	weight := 40.0
	return &WorkoutSnapshot{
		WorkoutID:   "W1",
		WorkoutName: "Treino A",
		StudentName: "Ana",
		Exercises: []WorkoutExercise{
			{ID: "e1", Name: "Supino", Sets: 3, Reps: 8, RestTime: 60, TargetReps: &label, Weight: &weight},
			{ID: "e2", Name: "Remada", Sets: 4, Reps: 10, RestTime: 90, CompletedSets: 1},
		},
		CurrentExerciseIndex: 1,
		CurrentSetIndex:      1,
		IsActive:             true,
		UpdatedAt:            time.Date(2026, 10, 12, 9, 30, 0, 0, time.UTC),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	in := sampleSnapshot()
	data, err := EncodeSnapshot(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

// TestNullStateDistinguishable verifies "no workout" never decodes as a
// snapshot and a real snapshot never encodes as the null marker.
func TestNullStateDistinguishable(t *testing.T) {
	data, err := EncodeSnapshot(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !IsNullState(data) {
		t.Errorf("EncodeSnapshot(nil) = %s, want null", data)
	}
	got, err := DecodeSnapshot(data)
	if err != nil || got != nil {
		t.Errorf("DecodeSnapshot(null) = %+v, %v; want nil, nil", got, err)
	}

	empty := &WorkoutSnapshot{WorkoutID: "W1"}
	data, err = EncodeSnapshot(empty)
	if err != nil {
		t.Fatal(err)
	}
	if IsNullState(data) {
		t.Error("empty snapshot encoded as null")
	}
	got, err = DecodeSnapshot(data)
	if err != nil || got == nil {
		t.Fatalf("DecodeSnapshot = %v, %v", got, err)
	}
	if got.Exercises == nil || len(got.Exercises) != 0 {
		t.Errorf("exercises = %#v, want empty slice", got.Exercises)
	}
}

func TestDecodeSnapshotRejectsEmpty(t *testing.T) {
	if _, err := DecodeSnapshot([]byte("  ")); err == nil {
		t.Error("empty payload accepted")
	}
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkoutSnapshot)
		ok     bool
	}{
		{"valid", func(*WorkoutSnapshot) {}, true},
		{"empty id", func(s *WorkoutSnapshot) { s.WorkoutID = "" }, false},
		{"exercise index past end", func(s *WorkoutSnapshot) { s.CurrentExerciseIndex = 2 }, false},
		{"negative exercise index", func(s *WorkoutSnapshot) { s.CurrentExerciseIndex = -1 }, false},
		{"negative set index", func(s *WorkoutSnapshot) { s.CurrentSetIndex = -1 }, false},
		{"no exercises", func(s *WorkoutSnapshot) { s.Exercises = nil; s.CurrentExerciseIndex = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSnapshot()
			tt.mutate(s)
			err := s.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if _, encErr := EncodeSnapshot(s); (encErr == nil) != tt.ok {
				t.Errorf("EncodeSnapshot err = %v, want ok=%v", encErr, tt.ok)
			}
		})
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	orig := sampleSnapshot()
	c := orig.Clone()
	c.Exercises[0].CompletedSets = 3
	*c.Exercises[0].Weight = 99
	*c.Exercises[0].TargetReps = "x"

	if orig.Exercises[0].CompletedSets != 0 || *orig.Exercises[0].Weight != 40 || *orig.Exercises[0].TargetReps != "8-12" {
		t.Errorf("original mutated through clone: %+v", orig.Exercises[0])
	}
	var nilSnap *WorkoutSnapshot
	if nilSnap.Clone() != nil {
		t.Error("nil clone not nil")
	}
}
