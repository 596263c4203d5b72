package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/companion"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const usage = `commands:
  start <workoutId>
  set <exerciseIndex> <setIndex> [reps weight]
  finish <workoutId> [rpe]
  show
  quit
`

func main() {
	hubAddr := flag.String("hub", "tcp://127.0.0.1:7420", "phone hub address (tcp://host:port or ws://host/api/v1/watch/ws)")
	outboxDir := flag.String("outbox", "", "directory for unacknowledged finishes (default ~/.kinevo-watch)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("kinevo-watch", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *outboxDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Error("failed to get home directory", "error", err)
			os.Exit(1)
		}
		*outboxDir = filepath.Join(homeDir, ".kinevo-watch")
	}

	outbox, err := companion.OpenOutbox(*outboxDir)
	if err != nil {
		log.Error("failed to open outbox", "dir", *outboxDir, "error", err)
		os.Exit(1)
	}
	defer outbox.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := companion.NewClient(companion.Config{
		HubAddr: *hubAddr,
		OnContext: func(snap *watch.WorkoutSnapshot) {
			if snap == nil {
				log.Info("no workout pending")
				return
			}
			log.Info("workout context", "workout", snap.WorkoutID, "name", snap.WorkoutName, "active", snap.IsActive)
		},
		OnAck: func(workoutID string) {
			log.Info("finish acknowledged", "workout", workoutID)
		},
	}, outbox, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := client.Run(ctx); err != nil {
			log.Error("hub client stopped", "error", err)
		}
	}()

	cli := newSession(client)
	fmt.Fprint(os.Stderr, usage)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := cli.run(ctx, strings.Fields(line))
			if err != nil {
				log.Error("command failed", "line", line, "error", err)
			}
			if quit {
				break loop
			}
		}
	}

	stop()
	<-done
}

// session is the CLI's view of the workouts started on this companion.
type session struct {
	client  *companion.Client
	now     func() time.Time
	started map[string]time.Time
}

func newSession(client *companion.Client) *session {
	return &session{client: client, now: time.Now, started: make(map[string]time.Time)}
}

func (s *session) run(ctx context.Context, args []string) (quit bool, err error) {
	if len(args) == 0 {
		return false, nil
	}
	client := s.client
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch args[0] {
	case "start":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: start <workoutId>")
		}
		// The run started on the watch even if the phone missed the event.
		s.started[args[1]] = s.now().UTC()
		return false, client.StartWorkout(sendCtx, args[1])

	case "set":
		ev, err := parseSet(args[1:])
		if err != nil {
			return false, err
		}
		snap, _ := client.Latest().Get()
		if snap != nil {
			ev.WorkoutID = snap.WorkoutID
		}
		return false, client.CompleteSet(sendCtx, ev)

	case "finish":
		if len(args) < 2 || len(args) > 3 {
			return false, fmt.Errorf("usage: finish <workoutId> [rpe]")
		}
		ev := watch.FinishWorkoutEvent{WorkoutID: args[1]}
		if len(args) == 3 {
			rpe, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return false, fmt.Errorf("parsing rpe: %w", err)
			}
			ev.RPE = rpe
		}
		at, ok := s.started[args[1]]
		if ok {
			ev.StartedAt = at.Format(time.RFC3339)
		}
		// Queued in the outbox even when the phone is away.
		if err := client.FinishWorkout(sendCtx, ev); err != nil {
			return false, err
		}
		delete(s.started, args[1])
		return false, nil

	case "show":
		snap, seq := client.Latest().Get()
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Printf("context #%d (connected=%v)\n%s\n", seq, client.Connected(), data)
		return false, nil

	case "quit", "exit":
		return true, nil
	}
	return false, fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

func parseSet(args []string) (watch.SetCompletionEvent, error) {
	var ev watch.SetCompletionEvent
	if len(args) != 2 && len(args) != 4 {
		return ev, fmt.Errorf("usage: set <exerciseIndex> <setIndex> [reps weight]")
	}
	var err error
	if ev.ExerciseIndex, err = strconv.Atoi(args[0]); err != nil {
		return ev, fmt.Errorf("parsing exercise index: %w", err)
	}
	if ev.SetIndex, err = strconv.Atoi(args[1]); err != nil {
		return ev, fmt.Errorf("parsing set index: %w", err)
	}
	if len(args) == 4 {
		reps, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return ev, fmt.Errorf("parsing reps: %w", err)
		}
		weight, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return ev, fmt.Errorf("parsing weight: %w", err)
		}
		ev.Reps, ev.Weight = &reps, &weight
	}
	return ev, nil
}
