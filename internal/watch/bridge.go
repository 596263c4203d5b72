// Package watch is the companion-device synchronization core: it decides
// which workout the wearable should show and moves state and events between
// the phone and the companion over a Bridge.
package watch

import (
	"context"
	"encoding/json"
)

// Reply is the companion's answer to a SendMessage call.
type Reply struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscription releases an inbound-message listener.
type Subscription interface {
	Unsubscribe() error
}

// Bridge is the platform layer that talks to the paired companion. The core
// never touches the physical transport, only this contract. Every call may
// fail with ErrUnreachable and none of them retry.
type Bridge interface {
	// PushState replaces the companion's context with state. state is
	// either an encoded WorkoutSnapshot or the JSON literal null.
	PushState(ctx context.Context, state []byte) error
	// SendMessage delivers a one-shot message and waits for the reply.
	SendMessage(ctx context.Context, env Envelope) (Reply, error)
	// SendAck tells the companion it may discard its copy of a finished
	// workout. ack.FinishID, when set, names the exact run.
	SendAck(ctx context.Context, ack AckPayload) error
	// Subscribe registers onMessage for inbound envelopes in arrival order.
	Subscribe(onMessage func(Envelope)) (Subscription, error)
	IsReachable() bool
	ReadDebugLogs(ctx context.Context) ([]string, error)
	ClearDebugLogs(ctx context.Context) error
}

// IsReachable asks b whether the companion is reachable. It never panics:
// any failure inside the bridge reads as false. Use it as a UI hint only.
func IsReachable(b Bridge) (ok bool) {
	if b == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return b.IsReachable()
}
