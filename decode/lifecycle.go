package decode

import "sync/atomic"

// Phase is the lifecycle state of a scheduler instance.
//
// Spawned decode and consumer goroutines hold a reference to the shared
// lifecycle so they can observe shutdown without touching global state.
type Phase int32

const (
	// PhaseCreated is the state before Initialize completes.
	PhaseCreated Phase = iota
	// PhaseRunning is the state in which scheduling operations are accepted.
	PhaseRunning
	// PhaseShuttingDown is the state during Cleanup; in-flight decoder
	// output is released instead of buffered.
	PhaseShuttingDown
	// PhaseClosed is the terminal state.
	PhaseClosed
)

// String returns a readable phase name for logs and errors.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseRunning:
		return "running"
	case PhaseShuttingDown:
		return "shutting-down"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// lifecycle is the shared state machine Created → Running → ShuttingDown →
// Closed. Transitions are compare-and-swap so concurrent Cleanup calls are
// safe and idempotent.
type lifecycle struct {
	phase atomic.Int32
}

func newLifecycle() *lifecycle {
	return &lifecycle{}
}

func (l *lifecycle) current() Phase {
	return Phase(l.phase.Load())
}

// transition moves from one phase to the next; returns false when the
// current phase is not the expected one.
func (l *lifecycle) transition(from, to Phase) bool {
	return l.phase.CompareAndSwap(int32(from), int32(to))
}

// active reports whether decoded frames should still be buffered.
func (l *lifecycle) active() bool {
	return l.current() == PhaseRunning
}
