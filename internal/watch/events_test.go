package watch

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseSetCompletion(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		field   string
	}{
		{"valid", `{"exerciseIndex":0,"setIndex":2}`, false, ""},
		{"numeric strings", `{"exerciseIndex":"1","setIndex":"0"}`, false, ""},
		{"negative exercise", `{"exerciseIndex":-1,"setIndex":0}`, true, "exerciseIndex"},
		{"negative set", `{"exerciseIndex":0,"setIndex":-3}`, true, "setIndex"},
		{"missing set", `{"exerciseIndex":0}`, true, "setIndex"},
		{"null index", `{"exerciseIndex":null,"setIndex":0}`, true, "exerciseIndex"},
		{"fractional", `{"exerciseIndex":1.5,"setIndex":0}`, true, "exerciseIndex"},
		{"not an object", `[1,2]`, true, "payload"},
		{"empty", ``, true, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSetCompletion(json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestParseSetCompletionOptionalNumbers(t *testing.T) {
	ev, err := ParseSetCompletion(json.RawMessage(`{"exerciseIndex":0,"setIndex":0,"reps":null,"weight":"abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Reps != nil {
		t.Errorf("reps = %v, want nil for null", *ev.Reps)
	}
	if ev.Weight != nil {
		t.Errorf("weight = %v, want nil for non-numeric", *ev.Weight)
	}
}

func TestParseStartWorkout(t *testing.T) {
	ev, err := ParseStartWorkout(json.RawMessage(`{"workoutId":" W1 "}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.WorkoutID != "W1" {
		t.Errorf("workoutId = %q, want W1", ev.WorkoutID)
	}

	for _, p := range []string{`{}`, `{"workoutId":""}`, `{"workoutId":null}`, `null`} {
		if _, err := ParseStartWorkout(json.RawMessage(p)); err == nil {
			t.Errorf("ParseStartWorkout(%s) succeeded, want error", p)
		}
	}
}

func TestParseFinishWorkout(t *testing.T) {
	payload := `{
		"workoutId": "W1",
		"rpe": "7",
		"startedAt": "2026-10-12T09:00:00Z",
		"exercises": [
			{"id": "e1", "sets": [
				{"setIndex": 0, "reps": 10, "weight": 40, "completed": true},
				{"reps": "8", "weight": 42.5, "completed": "true"}
			]},
			{"name": "no id"},
			{"id": "e2", "sets": "garbage"}
		]
	}`
	ev, err := ParseFinishWorkout(json.RawMessage(payload))
	if err != nil {
		t.Fatal(err)
	}
	if ev.RPE != 7 || ev.StartedAt != "2026-10-12T09:00:00Z" {
		t.Errorf("rpe/startedAt = %v/%q", ev.RPE, ev.StartedAt)
	}
	if len(ev.Exercises) != 2 {
		t.Fatalf("exercises = %d, want 2", len(ev.Exercises))
	}
	sets := ev.Exercises[0].Sets
	if len(sets) != 2 {
		t.Fatalf("e1 sets = %d, want 2", len(sets))
	}
	if sets[1].SetIndex != 1 || sets[1].Reps != 8 || sets[1].Weight != 42.5 || !sets[1].Completed {
		t.Errorf("second set = %+v", sets[1])
	}
	if ev.Exercises[1].ID != "e2" || len(ev.Exercises[1].Sets) != 0 {
		t.Errorf("e2 = %+v, want no sets", ev.Exercises[1])
	}
}

func TestParseFinishWorkoutDefaults(t *testing.T) {
	ev, err := ParseFinishWorkout(json.RawMessage(`{"workoutId":"W1","exercises":{"bad":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.RPE != 0 || ev.Exercises != nil {
		t.Errorf("event = %+v, want rpe 0 and no exercises", ev)
	}
	if _, err := ParseFinishWorkout(json.RawMessage(`{"rpe":9}`)); err == nil {
		t.Error("missing workoutId accepted")
	}
}

func TestParseAck(t *testing.T) {
	ack, err := ParseAck(json.RawMessage(`{"workoutId":"W1"}`))
	if err != nil || ack.WorkoutID != "W1" {
		t.Errorf("ParseAck = %+v, %v", ack, err)
	}
	if _, err := ParseAck(json.RawMessage(`{}`)); err == nil {
		t.Error("empty ack accepted")
	}

	ack, err = ParseAck(json.RawMessage(`{"workoutId":"W1","finishId":"f-1"}`))
	if err != nil || ack.FinishID != "f-1" {
		t.Errorf("ParseAck finishId = %+v, %v", ack, err)
	}
}

func TestParseFinishWorkoutFinishID(t *testing.T) {
	ev, err := ParseFinishWorkout(json.RawMessage(`{"workoutId":"W1","finishId":"f-1","rpe":6}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.FinishID != "f-1" {
		t.Errorf("finishId = %q, want f-1", ev.FinishID)
	}
}
