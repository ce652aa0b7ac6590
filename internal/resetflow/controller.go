package resetflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/viewer"
)

// Host is the surface the controller drives: it commits snapshots for
// display, performs navigation, and exposes the completion bridge.
type Host interface {
	Commit(ctx context.Context, snap Snapshot)
	Navigate(ctx context.Context, to Route, replace bool)
	Bridge() HostBridge
}

// Deps are shared across requests; a Controller is built per request around
// them and its Host.
type Deps struct {
	Viewers  viewer.Query
	Store    FlowStore
	Gate     *Gate
	Signaler *Signaler
	FlowTTL  time.Duration
	NewID    func() string
	Logger   *zap.SugaredLogger
}

type Controller struct {
	Deps
	host Host
	now  func() time.Time
}

func NewController(d Deps, host Host) *Controller {
	return &Controller{Deps: d, host: host, now: time.Now}
}

// Enter starts a flow activation. A viewer that is not a user ends in
// StateUnauthorized with viewer.ErrNotFound and nothing is persisted.
func (c *Controller) Enter(ctx context.Context, entry EntryContext) (Snapshot, error) {
	v, err := viewer.Require(ctx, c.Viewers)
	if err != nil {
		if errors.Is(err, viewer.ErrNotFound) {
			return Snapshot{State: StateUnauthorized, Entry: entry}, err
		}
		return Snapshot{State: StateGuarding, Entry: entry}, err
	}
	// The viewer query honours ctx, but a result racing the abort must not
	// create a flow either.
	if err := ctx.Err(); err != nil {
		return Snapshot{State: StateGuarding, Entry: entry}, err
	}

	f := &Flow{
		ID:        c.NewID(),
		Entry:     entry,
		UserID:    v.ID,
		Request:   ResetRequest{Status: StatusNotStarted},
		CreatedAt: c.now().UTC(),
	}
	if err := c.Store.Create(ctx, f, c.FlowTTL); err != nil {
		return Snapshot{State: StateGuarding, Entry: entry}, fmt.Errorf("create reset flow: %w", err)
	}
	c.Logger.Debugw("reset flow started", "flow_id", f.ID, "user_id", v.ID, "deep_link", entry.DeepLink)
	return c.commit(ctx, f, StateConfirming), nil
}

// View re-renders an existing flow from its stored state. A flow that
// already succeeded goes straight to the success route without signalling
// again.
func (c *Controller) View(ctx context.Context, flowID string) (Snapshot, error) {
	f, _, err := c.guard(ctx, flowID)
	if err != nil {
		return Snapshot{State: StateUnauthorized}, err
	}
	if f.Request.Status == StatusSucceeded {
		return c.navigateSuccess(ctx, f), nil
	}
	return c.commit(ctx, f, f.State()), nil
}

// Confirm is the confirm click. It runs the gate, and on success commits
// StateCompleting, signals the external caller, then replace-navigates to
// the success route, in that order.
func (c *Controller) Confirm(ctx context.Context, flowID string) (Snapshot, error) {
	f, v, err := c.guard(ctx, flowID)
	if err != nil {
		return Snapshot{State: StateUnauthorized}, err
	}
	switch f.Request.Status {
	case StatusSucceeded:
		return c.navigateSuccess(ctx, f), nil
	case StatusPending:
		return c.commit(ctx, f, StateSubmitting), nil
	}

	f.Request.Status = StatusPending
	c.commit(ctx, f, StateSubmitting)

	req, issued, err := c.Gate.Submit(ctx, f, v.ID)
	if err != nil {
		if errors.Is(err, ErrForeignTarget) {
			return Snapshot{State: StateUnauthorized}, viewer.ErrNotFound
		}
		return Snapshot{State: StateSubmitting}, err
	}
	f.Request = req

	if !issued {
		if req.Status == StatusSucceeded {
			return c.navigateSuccess(ctx, f), nil
		}
		return c.commit(ctx, f, f.State()), nil
	}
	if req.Status == StatusFailed {
		return c.commit(ctx, f, StateConfirming), nil
	}

	if ctx.Err() != nil {
		c.Logger.Infow("reset allowed but requester is gone; completion not signalled",
			"flow_id", f.ID, "request_id", req.ID)
		return snapshotOf(f, StateCompleting), nil
	}

	c.commit(ctx, f, StateCompleting)
	first, err := c.Store.MarkSignalled(ctx, f.ID)
	switch {
	case err != nil:
		c.Logger.Warnw("mark flow signalled failed; completion not signalled", "flow_id", f.ID, "err", err)
	case first:
		c.Signaler.Signal(c.host.Bridge())
	default:
		c.Logger.Debugw("completion already signalled", "flow_id", f.ID)
	}
	c.host.Navigate(ctx, RouteSuccess, true)
	return snapshotOf(f, StateNavigated), nil
}

// Cancel leaves the flow through its cancel affordance. It is only possible
// while confirming; otherwise the current state is shown again.
func (c *Controller) Cancel(ctx context.Context, flowID string) (Snapshot, error) {
	f, _, err := c.guard(ctx, flowID)
	if err != nil {
		return Snapshot{State: StateUnauthorized}, err
	}
	discarded, err := c.Store.Discard(ctx, f.ID)
	if err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return Snapshot{State: StateUnauthorized}, viewer.ErrNotFound
		}
		return snapshotOf(f, f.State()), err
	}
	if !discarded {
		return c.View(ctx, flowID)
	}
	target := CancelTarget(f.Entry)
	c.Logger.Debugw("reset flow cancelled", "flow_id", f.ID, "target", target)
	c.host.Navigate(ctx, target, f.Entry.DeepLink)
	return snapshotOf(f, StateNavigated), nil
}

// guard re-resolves the viewer and loads the flow. Unknown flows and flows
// owned by someone else look exactly like an unauthenticated caller.
func (c *Controller) guard(ctx context.Context, flowID string) (*Flow, viewer.Viewer, error) {
	v, err := viewer.Require(ctx, c.Viewers)
	if err != nil {
		return nil, viewer.Viewer{}, err
	}
	f, err := c.Store.Get(ctx, flowID)
	if err != nil {
		if errors.Is(err, ErrFlowNotFound) {
			return nil, viewer.Viewer{}, viewer.ErrNotFound
		}
		return nil, viewer.Viewer{}, fmt.Errorf("load reset flow: %w", err)
	}
	if f.UserID != v.ID {
		return nil, viewer.Viewer{}, viewer.ErrNotFound
	}
	return f, v, nil
}

func (c *Controller) commit(ctx context.Context, f *Flow, state State) Snapshot {
	snap := snapshotOf(f, state)
	c.host.Commit(ctx, snap)
	return snap
}

func (c *Controller) navigateSuccess(ctx context.Context, f *Flow) Snapshot {
	c.host.Navigate(ctx, RouteSuccess, true)
	return snapshotOf(f, StateNavigated)
}
