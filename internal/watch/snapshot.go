package watch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// nullState is the state-channel payload for "no workout pending".
var nullState = []byte("null")

// WorkoutExercise is one exercise line in a WorkoutSnapshot.
type WorkoutExercise struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Sets          int      `json:"sets"`
	Reps          int      `json:"reps"`
	RestTime      int      `json:"restTime"`
	CompletedSets int      `json:"completedSets"`
	TargetReps    *string  `json:"targetReps,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
}

// WorkoutSnapshot is the complete state the companion device should display.
// It is always pushed whole and superseded by the next push. A nil
// *WorkoutSnapshot means no workout is pending today.
type WorkoutSnapshot struct {
	WorkoutID            string            `json:"workoutId"`
	WorkoutName          string            `json:"workoutName"`
	StudentName          string            `json:"studentName"`
	Exercises            []WorkoutExercise `json:"exercises"`
	CurrentExerciseIndex int               `json:"currentExerciseIndex"`
	CurrentSetIndex      int               `json:"currentSetIndex"`
	IsActive             bool              `json:"isActive"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// Validate checks the cursor invariant.
func (s *WorkoutSnapshot) Validate() error {
	if s == nil {
		return nil
	}
	if s.WorkoutID == "" {
		return errors.New("snapshot: workoutId is empty")
	}
	if len(s.Exercises) == 0 {
		return nil
	}
	if s.CurrentExerciseIndex < 0 || s.CurrentExerciseIndex >= len(s.Exercises) {
		return fmt.Errorf("snapshot: currentExerciseIndex %d out of range [0,%d)", s.CurrentExerciseIndex, len(s.Exercises))
	}
	if s.CurrentSetIndex < 0 {
		return fmt.Errorf("snapshot: currentSetIndex %d is negative", s.CurrentSetIndex)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate progress without racing a
// value that is being encoded elsewhere.
func (s *WorkoutSnapshot) Clone() *WorkoutSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Exercises = make([]WorkoutExercise, len(s.Exercises))
	for i, ex := range s.Exercises {
		if ex.TargetReps != nil {
			v := *ex.TargetReps
			ex.TargetReps = &v
		}
		if ex.Weight != nil {
			v := *ex.Weight
			ex.Weight = &v
		}
		c.Exercises[i] = ex
	}
	return &c
}

// EncodeSnapshot serializes s for the state channel. A nil snapshot encodes
// as the JSON literal null, which is never produced by a real snapshot.
func EncodeSnapshot(s *WorkoutSnapshot) ([]byte, error) {
	if s == nil {
		return append([]byte(nil), nullState...), nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := *s
	if out.Exercises == nil {
		out.Exercises = []WorkoutExercise{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot is the receiving side of EncodeSnapshot.
func DecodeSnapshot(data []byte) (*WorkoutSnapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("decoding snapshot: empty payload")
	}
	if bytes.Equal(data, nullState) {
		return nil, nil
	}
	var s WorkoutSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsNullState reports whether a state-channel payload is the "nothing pending" marker.
func IsNullState(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), nullState)
}
