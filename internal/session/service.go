// Package session runs the watch sync core for one user: it resolves the
// next workout, keeps the companion's context current, and records what the
// companion reports.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// Store is the persistence the service needs on top of the resolver's
// queries. storage.DB satisfies it.
type Store interface {
	watch.QuerySource
	StartSession(ctx context.Context, studentID, workoutID string, at time.Time) (uuid.UUID, error)
	RecordSetProgress(ctx context.Context, studentID, workoutID string, ev watch.SetCompletionEvent, at time.Time) (bool, error)
	RecordFinishedWorkout(ctx context.Context, studentID string, ev watch.FinishWorkoutEvent, receivedAt time.Time) error
}

// Config configures a Service.
type Config struct {
	UserID         string
	Location       *time.Location
	DedupWindow    time.Duration
	PersistTimeout time.Duration
	// Now is the service clock.
	Now func() time.Time
}

// Status is a point-in-time view of the sync state.
type Status struct {
	UserID     string                 `json:"user_id"`
	Reachable  bool                   `json:"reachable"`
	Subscribed bool                   `json:"subscribed"`
	Stats      watch.Stats            `json:"stats"`
	Current    *watch.WorkoutSnapshot `json:"current"`
	LastPushAt *time.Time             `json:"last_push_at,omitempty"`
	LastPush   string                 `json:"last_push_error,omitempty"`
	LastFinish *FinishReport          `json:"last_finish,omitempty"`
}

// FinishReport summarizes the latest FINISH_WORKOUT handled.
type FinishReport struct {
	WorkoutID    string    `json:"workout_id"`
	Persisted    bool      `json:"persisted"`
	Acknowledged bool      `json:"acknowledged"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Service wires the dispatcher, both channels and the resolver to a Store.
type Service struct {
	cfg        Config
	store      Store
	bridge     watch.Bridge
	resolver   *watch.Resolver
	state      *watch.StateChannel
	dispatcher *watch.Dispatcher
	log        *slog.Logger

	mu         sync.Mutex
	current    *watch.WorkoutSnapshot
	studentID  string
	lastPushAt time.Time
	lastPush   error
	lastFinish *FinishReport
}

// New creates a Service. Call Start to subscribe to the bridge.
func New(cfg Config, store Store, bridge watch.Bridge, log *slog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		bridge:   bridge,
		resolver: watch.NewResolver(store, cfg.Location, log),
		state:    watch.NewStateChannel(bridge, log),
		log:      log,
	}
	s.dispatcher = watch.NewDispatcher(bridge, watch.NewReliableChannel(bridge, log), watch.DispatcherConfig{
		DedupWindow:    cfg.DedupWindow,
		PersistTimeout: cfg.PersistTimeout,
		Persist:        s.persistFinish,
		Now:            cfg.Now,
	}, log)
	s.dispatcher.RegisterHandlers(watch.Handlers{
		OnSetComplete:   s.onSetComplete,
		OnStartWorkout:  s.onStartWorkout,
		OnFinishWorkout: s.onFinishWorkout,
	})
	return s
}

// Start subscribes to the companion's events and pushes the current next
// workout. A failed push is not an error; the next refresh supersedes it.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.dispatcher.Subscribe(); err != nil {
		return fmt.Errorf("starting watch sync: %w", err)
	}
	s.RefreshWatch(ctx)
	return nil
}

// Stop releases the bridge subscription. No handler runs after it returns.
func (s *Service) Stop() error {
	return s.dispatcher.Unsubscribe()
}

// NextWorkout resolves the workout to show now without pushing it.
func (s *Service) NextWorkout(ctx context.Context) *watch.WorkoutSnapshot {
	return s.resolver.ResolveAt(ctx, s.cfg.UserID, s.cfg.Now())
}

// RefreshWatch resolves the next workout and pushes it (or null) to the
// companion. It returns what was pushed and the outcome of this push.
func (s *Service) RefreshWatch(ctx context.Context) (*watch.WorkoutSnapshot, error) {
	snap := s.NextWorkout(ctx)

	s.mu.Lock()
	if s.current != nil && snap != nil && s.current.IsActive && s.current.WorkoutID == snap.WorkoutID {
		// Keep in-workout progress over a fresh, not-started snapshot.
		snap = s.current.Clone()
		snap.UpdatedAt = s.cfg.Now()
	}
	s.current = snap.Clone()
	s.mu.Unlock()

	return snap, s.push(ctx, snap)
}

// Status reports reachability, dispatcher counters and the last pushes.
func (s *Service) Status() Status {
	// Handlers hold the dispatcher lock while taking s.mu, so read the
	// dispatcher first.
	st := Status{
		UserID:     s.cfg.UserID,
		Reachable:  watch.IsReachable(s.bridge),
		Subscribed: s.dispatcher.Subscribed(),
		Stats:      s.dispatcher.Stats(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Current = s.current.Clone()
	if s.lastFinish != nil {
		f := *s.lastFinish
		st.LastFinish = &f
	}
	if !s.lastPushAt.IsZero() {
		at := s.lastPushAt
		st.LastPushAt = &at
	}
	if s.lastPush != nil {
		st.LastPush = s.lastPush.Error()
	}
	return st
}

func (s *Service) push(ctx context.Context, snap *watch.WorkoutSnapshot) error {
	err := s.state.Push(ctx, snap)
	s.mu.Lock()
	s.lastPushAt = s.cfg.Now()
	s.lastPush = err
	s.mu.Unlock()
	return err
}

// student returns the current user's student ID, resolving it once.
func (s *Service) student(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.studentID
	s.mu.Unlock()
	if id != "" {
		return id, nil
	}

	st, err := s.store.GetStudent(ctx, s.cfg.UserID)
	if err != nil {
		return "", fmt.Errorf("looking up student: %w", err)
	}
	if st == nil {
		return "", fmt.Errorf("no student for user %s", s.cfg.UserID)
	}
	s.mu.Lock()
	s.studentID = st.ID
	s.mu.Unlock()
	return st.ID, nil
}

func (s *Service) onStartWorkout(ev watch.StartWorkoutEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout())
	defer cancel()
	now := s.cfg.Now()

	studentID, err := s.student(ctx)
	if err != nil {
		s.log.Error("start not recorded", "workout_id", ev.WorkoutID, "error", err)
		return
	}
	if _, err := s.store.StartSession(ctx, studentID, ev.WorkoutID, now); err != nil {
		s.log.Error("start not recorded", "workout_id", ev.WorkoutID, "error", err)
	}

	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || cur.WorkoutID != ev.WorkoutID {
		cur = s.NextWorkout(ctx)
		if cur == nil || cur.WorkoutID != ev.WorkoutID {
			s.log.Warn("started workout is not the resolved one", "workout_id", ev.WorkoutID)
			return
		}
	}

	next := cur.Clone()
	next.IsActive = true
	next.UpdatedAt = now
	s.mu.Lock()
	s.current = next.Clone()
	s.mu.Unlock()

	s.log.Info("workout started on companion", "workout_id", ev.WorkoutID)
	s.push(ctx, next)
}

func (s *Service) onSetComplete(ev watch.SetCompletionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout())
	defer cancel()
	now := s.cfg.Now()

	s.mu.Lock()
	cur := s.current.Clone()
	s.mu.Unlock()
	if cur == nil || (ev.WorkoutID != "" && ev.WorkoutID != cur.WorkoutID) {
		s.log.Warn("set completion for unknown workout", "workout_id", ev.WorkoutID)
		return
	}
	if ev.ExerciseIndex >= len(cur.Exercises) {
		s.log.Warn("set completion out of range", "exercise_index", ev.ExerciseIndex, "exercises", len(cur.Exercises))
		return
	}

	if ev.ExerciseID == "" {
		ev.ExerciseID = cur.Exercises[ev.ExerciseIndex].ID
	}
	if studentID, err := s.student(ctx); err != nil {
		s.log.Warn("set progress not recorded", "error", err)
	} else if _, err := s.store.RecordSetProgress(ctx, studentID, cur.WorkoutID, ev, now); err != nil {
		s.log.Warn("set progress not recorded", "workout_id", cur.WorkoutID, "error", err)
	}

	AdvanceCursor(cur, ev)
	cur.IsActive = true
	cur.UpdatedAt = now
	s.mu.Lock()
	s.current = cur.Clone()
	s.mu.Unlock()

	s.push(ctx, cur)
}

// AdvanceCursor applies a completed set to snap: the exercise's completed
// count covers the set, and the cursor moves to the next set, or to the next
// exercise once every set of this one is done.
func AdvanceCursor(snap *watch.WorkoutSnapshot, ev watch.SetCompletionEvent) {
	if snap == nil || ev.ExerciseIndex < 0 || ev.ExerciseIndex >= len(snap.Exercises) {
		return
	}
	ex := &snap.Exercises[ev.ExerciseIndex]
	ex.CompletedSets = max(ex.CompletedSets, ev.SetIndex+1)

	snap.CurrentExerciseIndex = ev.ExerciseIndex
	snap.CurrentSetIndex = ev.SetIndex + 1
	if ex.Sets > 0 && snap.CurrentSetIndex >= ex.Sets {
		if ev.ExerciseIndex+1 < len(snap.Exercises) {
			snap.CurrentExerciseIndex = ev.ExerciseIndex + 1
			snap.CurrentSetIndex = 0
		} else {
			snap.CurrentSetIndex = ex.Sets - 1
		}
	}
}

func (s *Service) persistFinish(ctx context.Context, ev watch.FinishWorkoutEvent) error {
	studentID, err := s.student(ctx)
	if err != nil {
		return err
	}
	return s.store.RecordFinishedWorkout(ctx, studentID, ev, s.cfg.Now().In(s.cfg.Location))
}

func (s *Service) onFinishWorkout(out watch.FinishOutcome) {
	report := &FinishReport{
		WorkoutID:    out.Event.WorkoutID,
		Persisted:    out.Persisted,
		Acknowledged: out.Acknowledged,
		At:           s.cfg.Now(),
	}
	if out.Err != nil {
		report.Error = out.Err.Error()
	} else if out.AckErr != nil {
		report.Error = out.AckErr.Error()
	}

	s.mu.Lock()
	s.lastFinish = report
	if out.Persisted && s.current != nil && s.current.WorkoutID == out.Event.WorkoutID {
		s.current = nil
	}
	s.mu.Unlock()

	if !out.Persisted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout())
	defer cancel()
	s.RefreshWatch(ctx)
}

func (s *Service) persistTimeout() time.Duration {
	if s.cfg.PersistTimeout > 0 {
		return s.cfg.PersistTimeout
	}
	return watch.DefaultPersistTimeout
}
