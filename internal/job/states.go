package job

import "time"

// State is the interface that all run states must implement
type State interface {
	Name() string
}

// Helper to track state transitions for testing
type StateRecorder struct {
	path []string
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]string, 0)}
}

func (r *StateRecorder) Record(state State) {
	r.path = append(r.path, state.Name())
}

func (r *StateRecorder) Path() []string {
	return r.path
}

// Phase timing boundaries (stored separately from states)
type PhaseTiming struct {
	CreatedAt         time.Time
	CheckoutStartedAt time.Time
	RefreshStartedAt  time.Time
	PublishStartedAt  time.Time
	CompletedAt       time.Time
}

// Duration returns the wall time of the run so far
func (t PhaseTiming) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.CreatedAt)
	}
	return t.CompletedAt.Sub(t.CreatedAt)
}
