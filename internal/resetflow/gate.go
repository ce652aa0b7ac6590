package resetflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrForeignTarget is returned when asked to authorize anyone but the
	// viewer who owns the flow.
	ErrForeignTarget = errors.New("reset target is not the current viewer")
	// ErrUnexpectedUser means the server confirmed a different user than
	// the one requested.
	ErrUnexpectedUser = errors.New("server confirmed an unexpected user")
)

// Mutation is the irreversible server call. It returns the ID of the user
// whose reset was allowed.
type Mutation interface {
	AllowCrossSigningReset(ctx context.Context, userID string) (string, error)
}

// Gate lets at most one attempt be in flight per flow and none after one
// has succeeded.
type Gate struct {
	store    FlowStore
	mutation Mutation
	newID    func() string
	logger   *zap.SugaredLogger
}

func NewGate(store FlowStore, mutation Mutation, newID func() string, logger *zap.SugaredLogger) *Gate {
	return &Gate{store: store, mutation: mutation, newID: newID, logger: logger}
}

// Submit starts an attempt for flow on behalf of viewerID. When an attempt
// is already pending, or one has succeeded, it does nothing and returns the
// stored request with issued=false.
//
// Once issued, the mutation and the recording of its outcome are detached
// from ctx: the requester going away must not leave the server-side effect
// ambiguous. There is no timeout either.
func (g *Gate) Submit(ctx context.Context, flow *Flow, viewerID string) (req ResetRequest, issued bool, err error) {
	if viewerID == "" || viewerID != flow.UserID {
		return ResetRequest{}, false, ErrForeignTarget
	}

	req = ResetRequest{ID: g.newID(), TargetUserID: viewerID, Status: StatusPending}
	ok, err := g.store.Begin(ctx, flow.ID, req)
	if err != nil {
		return ResetRequest{}, false, fmt.Errorf("begin reset request: %w", err)
	}
	if !ok {
		cur, err := g.store.Get(ctx, flow.ID)
		if err != nil {
			return ResetRequest{}, false, err
		}
		g.logger.Debugw("reset request not issued", "flow_id", flow.ID, "status", cur.Request.Status)
		return cur.Request, false, nil
	}

	detached := context.WithoutCancel(ctx)
	g.logger.Infow("allowing cross-signing reset", "flow_id", flow.ID, "request_id", req.ID, "user_id", viewerID)
	confirmed, mErr := g.mutation.AllowCrossSigningReset(detached, viewerID)
	if mErr == nil && confirmed != viewerID {
		mErr = fmt.Errorf("%w: %q", ErrUnexpectedUser, confirmed)
	}
	if mErr != nil {
		req.Status = StatusFailed
		req.ErrorDetail = mErr.Error()
		g.logger.Warnw("cross-signing reset rejected", "flow_id", flow.ID, "request_id", req.ID, "err", mErr)
	} else {
		req.Status = StatusSucceeded
	}

	if err := g.store.Finish(detached, flow.ID, req.ID, req.Status, req.ErrorDetail); err != nil {
		g.logger.Errorw("record reset outcome failed", "flow_id", flow.ID, "request_id", req.ID, "status", req.Status, "err", err)
		return req, true, fmt.Errorf("record reset outcome: %w", err)
	}
	return req, true, nil
}
