// Package resetflow implements the "reset cross-signing" confirmation flow:
// the viewer confirms once, the server records that their cross-signing
// identity may be replaced, and the client that sent them here is told the
// step is done.
package resetflow

import "time"

// Status of the single irreversible request of a flow.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// ResetRequest is one attempt at allowing the reset. ErrorDetail is set iff
// Status is StatusFailed.
type ResetRequest struct {
	ID           string
	TargetUserID string
	Status       Status
	ErrorDetail  string
}

// open reports whether a new attempt may start. An empty status is a
// request that never started.
func (r ResetRequest) open() bool {
	return r.Status == "" || r.Status == StatusNotStarted || r.Status == StatusFailed
}

// EntryContext is fixed when the flow starts.
type EntryContext struct {
	// DeepLink is true when an external client sent the browser straight here.
	DeepLink bool
}

// Flow is one activation of the confirmation page, persisted so the
// confirm/cancel requests that follow can find it.
type Flow struct {
	ID        string
	Entry     EntryContext
	UserID    string
	Request   ResetRequest
	Signalled bool
	CreatedAt time.Time
}

type State string

const (
	StateEntering     State = "entering"
	StateGuarding     State = "guarding"
	StateConfirming   State = "confirming"
	StateSubmitting   State = "submitting"
	StateCompleting   State = "completing"
	StateNavigated    State = "navigated"
	StateUnauthorized State = "unauthorized"
)

// State derives the controller state from what is persisted.
func (f *Flow) State() State {
	switch f.Request.Status {
	case StatusPending:
		return StateSubmitting
	case StatusSucceeded:
		if f.Signalled {
			return StateNavigated
		}
		return StateCompleting
	default:
		return StateConfirming
	}
}

// Route is a path relative to the service base path.
type Route string

const (
	RouteStart     Route = "/reset-cross-signing"
	RouteSuccess   Route = "/reset-cross-signing/success"
	RouteCancelled Route = "/reset-cross-signing/cancelled"
	RouteHome      Route = "/"
)

// CancelTarget is where the cancel affordance leads. A deep-link entry was
// started by an external client, so it ends on a terminal page that client
// can recognise; an in-app entry just goes back home.
func CancelTarget(entry EntryContext) Route {
	if entry.DeepLink {
		return RouteCancelled
	}
	return RouteHome
}

// Snapshot is what a host renders.
type Snapshot struct {
	FlowID       string
	State        State
	Entry        EntryContext
	Request      ResetRequest
	CancelTarget Route
}

// ConfirmDisabled reports whether the confirm affordance must be inert.
func (s Snapshot) ConfirmDisabled() bool {
	return s.Request.Status == StatusPending || s.Request.Status == StatusSucceeded
}

func snapshotOf(f *Flow, state State) Snapshot {
	return Snapshot{
		FlowID:       f.ID,
		State:        state,
		Entry:        f.Entry,
		Request:      f.Request,
		CancelTarget: CancelTarget(f.Entry),
	}
}
