package watch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBridge records every outbound call and lets tests inject inbound frames.
type fakeBridge struct {
	mu sync.Mutex

	onMessage        func(Envelope)
	subscribeCalls   int
	unsubscribeCalls int

	pushes [][]byte
	acks   []string
	ackIDs []string

	pushErr      error
	ackErr       error
	reachable    bool
	panicOnReach bool
}

func (b *fakeBridge) PushState(_ context.Context, state []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pushErr != nil {
		return b.pushErr
	}
	b.pushes = append(b.pushes, append([]byte(nil), state...))
	return nil
}

func (b *fakeBridge) SendMessage(_ context.Context, env Envelope) (Reply, error) {
	return Reply{}, errors.New("not used")
}

func (b *fakeBridge) SendAck(_ context.Context, ack AckPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, ack.WorkoutID)
	b.ackIDs = append(b.ackIDs, ack.FinishID)
	return b.ackErr
}

func (b *fakeBridge) Subscribe(onMessage func(Envelope)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeCalls++
	b.onMessage = onMessage
	return fakeSub{b: b}, nil
}

func (b *fakeBridge) IsReachable() bool {
	if b.panicOnReach {
		panic("native bridge exploded")
	}
	return b.reachable
}

func (b *fakeBridge) ReadDebugLogs(context.Context) ([]string, error) { return nil, nil }
func (b *fakeBridge) ClearDebugLogs(context.Context) error            { return nil }

// listener returns the callback currently registered, even after unsubscribe
// cleared it, so tests can simulate frames that were already in flight.
func (b *fakeBridge) listener() func(Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onMessage
}

func (b *fakeBridge) deliver(t MessageType, payload string) {
	if cb := b.listener(); cb != nil {
		cb(Envelope{Type: t, Payload: json.RawMessage(payload)})
	}
}

func (b *fakeBridge) ackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acks)
}

type fakeSub struct{ b *fakeBridge }

func (s fakeSub) Unsubscribe() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.unsubscribeCalls++
	s.b.onMessage = nil
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeSource is an in-memory QuerySource. errs is keyed by method name.
type fakeSource struct {
	student   *Student
	program   *Program
	workouts  []Workout
	completed map[string]bool
	items     map[string][]ExerciseItem
	errs      map[string]error

	lastDay DayWindow
}

func (s *fakeSource) GetStudent(context.Context, string) (*Student, error) {
	return s.student, s.errs["GetStudent"]
}

func (s *fakeSource) GetActiveProgram(context.Context, string) (*Program, error) {
	return s.program, s.errs["GetActiveProgram"]
}

func (s *fakeSource) ListWorkouts(context.Context, string) ([]Workout, error) {
	return s.workouts, s.errs["ListWorkouts"]
}

func (s *fakeSource) ListCompletedToday(_ context.Context, _ string, day DayWindow) (map[string]bool, error) {
	s.lastDay = day
	return s.completed, s.errs["ListCompletedToday"]
}

func (s *fakeSource) ListExerciseItems(_ context.Context, workoutID string) ([]ExerciseItem, error) {
	return s.items[workoutID], s.errs["ListExerciseItems"]
}
