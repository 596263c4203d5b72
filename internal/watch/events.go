package watch

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// MessageType tags an Envelope.
type MessageType string

const (
	TypeSetComplete   MessageType = "SET_COMPLETE"
	TypeStartWorkout  MessageType = "START_WORKOUT"
	TypeFinishWorkout MessageType = "FINISH_WORKOUT"
	// TypeFinishAck travels phone → companion once a finish has been recorded.
	TypeFinishAck MessageType = "FINISH_WORKOUT_ACK"
)

// Envelope is the wire shape of a one-shot message in either direction.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SetCompletionEvent reports one completed set on the companion.
type SetCompletionEvent struct {
	WorkoutID     string   `json:"workoutId,omitempty"`
	ExerciseID    string   `json:"exerciseId,omitempty"`
	ExerciseIndex int      `json:"exerciseIndex"`
	SetIndex      int      `json:"setIndex"`
	Reps          *float64 `json:"reps,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
}

// StartWorkoutEvent reports that the user tapped start on the companion.
type StartWorkoutEvent struct {
	WorkoutID string `json:"workoutId"`
}

// FinishedSet is one set inside a FinishWorkoutEvent.
type FinishedSet struct {
	SetIndex  int     `json:"setIndex"`
	Reps      float64 `json:"reps"`
	Weight    float64 `json:"weight"`
	Completed bool    `json:"completed"`
}

// FinishedExercise groups the sets logged for one exercise.
type FinishedExercise struct {
	ID   string        `json:"id"`
	Sets []FinishedSet `json:"sets"`
}

// FinishWorkoutEvent is the durable "workout finished" record owned by the
// companion until the phone acknowledges it. FinishID is optional; when set
// it is chosen once by the companion and repeated on every resend.
type FinishWorkoutEvent struct {
	WorkoutID string             `json:"workoutId"`
	FinishID  string             `json:"finishId,omitempty"`
	RPE       float64            `json:"rpe"`
	StartedAt string             `json:"startedAt,omitempty"`
	Exercises []FinishedExercise `json:"exercises,omitempty"`
}

// AckPayload is the payload of a FINISH_WORKOUT_ACK message.
// FinishID echoes the acknowledged event's finishId, if it had one.
type AckPayload struct {
	WorkoutID string `json:"workoutId"`
	FinishID  string `json:"finishId,omitempty"`
}

// ParseSetCompletion decodes a SET_COMPLETE payload. Both indexes are
// required and must be non-negative.
func ParseSetCompletion(payload json.RawMessage) (SetCompletionEvent, error) {
	f, err := payloadFields(TypeSetComplete, payload)
	if err != nil {
		return SetCompletionEvent{}, err
	}

	var ev SetCompletionEvent
	ev.WorkoutID, _ = fieldString(f, "workoutId")
	ev.ExerciseID, _ = fieldString(f, "exerciseId")

	idx, ok := fieldInt(f, "exerciseIndex")
	if !ok {
		return SetCompletionEvent{}, &ValidationError{Type: TypeSetComplete, Field: "exerciseIndex", Reason: "missing or not an integer"}
	}
	if idx < 0 {
		return SetCompletionEvent{}, &ValidationError{Type: TypeSetComplete, Field: "exerciseIndex", Reason: "must be >= 0"}
	}
	set, ok := fieldInt(f, "setIndex")
	if !ok {
		return SetCompletionEvent{}, &ValidationError{Type: TypeSetComplete, Field: "setIndex", Reason: "missing or not an integer"}
	}
	if set < 0 {
		return SetCompletionEvent{}, &ValidationError{Type: TypeSetComplete, Field: "setIndex", Reason: "must be >= 0"}
	}
	ev.ExerciseIndex = idx
	ev.SetIndex = set

	if v, ok := fieldNumber(f, "reps"); ok {
		ev.Reps = &v
	}
	if v, ok := fieldNumber(f, "weight"); ok {
		ev.Weight = &v
	}
	return ev, nil
}

// ParseStartWorkout decodes a START_WORKOUT payload.
func ParseStartWorkout(payload json.RawMessage) (StartWorkoutEvent, error) {
	f, err := payloadFields(TypeStartWorkout, payload)
	if err != nil {
		return StartWorkoutEvent{}, err
	}
	id, _ := fieldString(f, "workoutId")
	if id == "" {
		return StartWorkoutEvent{}, &ValidationError{Type: TypeStartWorkout, Field: "workoutId", Reason: "required"}
	}
	return StartWorkoutEvent{WorkoutID: id}, nil
}

// ParseFinishWorkout decodes a FINISH_WORKOUT payload. Only workoutId is
// required; rpe defaults to 0 and a malformed exercises list is dropped.
func ParseFinishWorkout(payload json.RawMessage) (FinishWorkoutEvent, error) {
	f, err := payloadFields(TypeFinishWorkout, payload)
	if err != nil {
		return FinishWorkoutEvent{}, err
	}
	id, _ := fieldString(f, "workoutId")
	if id == "" {
		return FinishWorkoutEvent{}, &ValidationError{Type: TypeFinishWorkout, Field: "workoutId", Reason: "required"}
	}

	ev := FinishWorkoutEvent{WorkoutID: id}
	if rpe, ok := fieldNumber(f, "rpe"); ok {
		ev.RPE = rpe
	}
	ev.FinishID, _ = fieldString(f, "finishId")
	ev.StartedAt, _ = fieldString(f, "startedAt")
	ev.Exercises = parseFinishedExercises(f["exercises"])
	return ev, nil
}

// ParseAck decodes a FINISH_WORKOUT_ACK payload.
func ParseAck(payload json.RawMessage) (AckPayload, error) {
	f, err := payloadFields(TypeFinishAck, payload)
	if err != nil {
		return AckPayload{}, err
	}
	id, _ := fieldString(f, "workoutId")
	if id == "" {
		return AckPayload{}, &ValidationError{Type: TypeFinishAck, Field: "workoutId", Reason: "required"}
	}
	finishID, _ := fieldString(f, "finishId")
	return AckPayload{WorkoutID: id, FinishID: finishID}, nil
}

func parseFinishedExercises(raw json.RawMessage) []FinishedExercise {
	if len(raw) == 0 {
		return nil
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	var out []FinishedExercise
	for _, entry := range entries {
		id, _ := fieldString(entry, "id")
		if id == "" {
			continue
		}
		ex := FinishedExercise{ID: id}

		var sets []map[string]json.RawMessage
		if rawSets, ok := entry["sets"]; ok {
			if err := json.Unmarshal(rawSets, &sets); err != nil {
				sets = nil
			}
		}
		for i, s := range sets {
			if s == nil {
				continue
			}
			set := FinishedSet{SetIndex: i}
			if v, ok := fieldInt(s, "setIndex"); ok && v >= 0 {
				set.SetIndex = v
			}
			set.Reps, _ = fieldNumber(s, "reps")
			set.Weight, _ = fieldNumber(s, "weight")
			set.Completed, _ = fieldBool(s, "completed")
			ex.Sets = append(ex.Sets, set)
		}
		out = append(out, ex)
	}
	return out
}

func payloadFields(t MessageType, payload json.RawMessage) (map[string]json.RawMessage, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, &ValidationError{Type: t, Field: "payload", Reason: "missing"}
	}
	var f map[string]json.RawMessage
	if err := json.Unmarshal(payload, &f); err != nil || f == nil {
		return nil, &ValidationError{Type: t, Field: "payload", Reason: "not a JSON object"}
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// fieldString accepts a JSON string, or a number rendered as its literal text.
func fieldString(f map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// fieldNumber accepts a JSON number or a numeric string.
func fieldNumber(f map[string]json.RawMessage, name string) (float64, bool) {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func fieldInt(f map[string]json.RawMessage, name string) (int, bool) {
	v, ok := fieldNumber(f, name)
	if !ok || v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

func fieldBool(f map[string]json.RawMessage, name string) (bool, bool) {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return parsed, true
		}
	}
	if v, ok := fieldNumber(f, name); ok {
		return v != 0, true
	}
	return false, false
}
