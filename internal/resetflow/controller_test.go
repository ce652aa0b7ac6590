package resetflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/viewer"
)

type fakeViewers struct {
	v     viewer.Viewer
	err   error
	calls int
}

func (f *fakeViewers) CurrentViewer(ctx context.Context) (viewer.Viewer, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return viewer.Viewer{}, err
	}
	return f.v, f.err
}

// recordingHost logs every host interaction in order. Its bridge records
// the signal through the completion callback when withCallback is set.
type recordingHost struct {
	events       []string
	snaps        []Snapshot
	withCallback bool
	opener       *recordingTarget
}

func (h *recordingHost) Commit(_ context.Context, s Snapshot) {
	h.events = append(h.events, "commit:"+string(s.State))
	h.snaps = append(h.snaps, s)
}

func (h *recordingHost) Navigate(_ context.Context, to Route, replace bool) {
	h.events = append(h.events, fmt.Sprintf("navigate:%s:%v", to, replace))
}

func (h *recordingHost) Bridge() HostBridge {
	b := &stubBridge{}
	if h.withCallback {
		b.callback = func() { h.events = append(h.events, "signal:callback") }
	}
	if h.opener != nil {
		b.opener = h.opener
	}
	return b
}

func (h *recordingHost) last() Snapshot { return h.snaps[len(h.snaps)-1] }

type fixture struct {
	viewers  *fakeViewers
	store    *MemoryFlowStore
	mutation *fakeMutation
	deps     Deps
}

func newFixture() *fixture {
	logger := zap.NewNop().Sugar()
	fx := &fixture{
		viewers:  &fakeViewers{v: viewer.Viewer{Kind: viewer.KindUser, ID: "user:1"}},
		store:    NewMemoryFlowStore(),
		mutation: &fakeMutation{},
	}
	fx.deps = Deps{
		Viewers:  fx.viewers,
		Store:    fx.store,
		Gate:     NewGate(fx.store, fx.mutation, sequentialIDs("req-"), logger),
		Signaler: NewSignaler(logger),
		FlowTTL:  time.Hour,
		NewID:    sequentialIDs("flow-"),
		Logger:   logger,
	}
	return fx
}

func (fx *fixture) enter(t *testing.T, deepLink bool) string {
	t.Helper()
	snap, err := NewController(fx.deps, &recordingHost{}).Enter(context.Background(), EntryContext{DeepLink: deepLink})
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	return snap.FlowID
}

// A: deep link, embedding client with a callback, success.
func TestConfirmSignalsThenNavigates(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, true)
	host := &recordingHost{withCallback: true, opener: &recordingTarget{}}

	snap, err := NewController(fx.deps, host).Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	want := []string{"commit:submitting", "commit:completing", "signal:callback", "navigate:/reset-cross-signing/success:true"}
	if !reflect.DeepEqual(host.events, want) {
		t.Fatalf("events = %v, want %v", host.events, want)
	}
	if snap.State != StateNavigated {
		t.Fatalf("state = %s", snap.State)
	}
	if len(host.opener.messages) != 0 {
		t.Fatalf("opener must not be messaged when a callback exists")
	}
	if fx.mutation.calls.Load() != 1 {
		t.Fatalf("mutation calls = %d", fx.mutation.calls.Load())
	}
}

// B: opened from another window, no callback.
func TestConfirmPostsToOpener(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, false)
	opener := &recordingTarget{}
	host := &recordingHost{opener: opener}

	if _, err := NewController(fx.deps, host).Confirm(context.Background(), id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(opener.messages) != 1 || opener.messages[0] != CompletionToken || opener.origins[0] != AnyOrigin {
		t.Fatalf("opener got %v %v", opener.messages, opener.origins)
	}
	if got := host.events[len(host.events)-1]; got != "navigate:/reset-cross-signing/success:true" {
		t.Fatalf("last event = %s", got)
	}
}

// C: anonymous viewer never sees the page and never mutates.
func TestEnterUnauthorized(t *testing.T) {
	for _, v := range []viewer.Viewer{viewer.Anonymous, {Kind: viewer.KindService}} {
		fx := newFixture()
		fx.viewers.v = v
		host := &recordingHost{}

		snap, err := NewController(fx.deps, host).Enter(context.Background(), EntryContext{DeepLink: true})
		if !errors.Is(err, viewer.ErrNotFound) {
			t.Fatalf("viewer %v: err = %v", v.Kind, err)
		}
		if snap.State != StateUnauthorized || len(host.events) != 0 {
			t.Fatalf("viewer %v: state=%s events=%v", v.Kind, snap.State, host.events)
		}
		if fx.mutation.calls.Load() != 0 {
			t.Fatalf("mutation called for %v", v.Kind)
		}
	}
}

func TestConfirmUnauthorizedAfterSignOut(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, false)
	fx.viewers.v = viewer.Anonymous

	_, err := NewController(fx.deps, &recordingHost{}).Confirm(context.Background(), id)
	if !errors.Is(err, viewer.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if fx.mutation.calls.Load() != 0 {
		t.Fatalf("mutation must not run")
	}
}

func TestFlowOfAnotherUserIsNotFound(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, false)
	fx.viewers.v = viewer.Viewer{Kind: viewer.KindUser, ID: "user:2"}

	c := NewController(fx.deps, &recordingHost{})
	if _, err := c.View(context.Background(), id); !errors.Is(err, viewer.ErrNotFound) {
		t.Fatalf("view: err = %v", err)
	}
	if _, err := c.Confirm(context.Background(), id); !errors.Is(err, viewer.ErrNotFound) {
		t.Fatalf("confirm: err = %v", err)
	}
	if _, err := c.View(context.Background(), "no-such-flow"); !errors.Is(err, viewer.ErrNotFound) {
		t.Fatalf("unknown flow: err = %v", err)
	}
}

func TestEnterPropagatesQueryFailure(t *testing.T) {
	fx := newFixture()
	boom := errors.New("connection refused")
	fx.viewers.err = boom

	snap, err := NewController(fx.deps, &recordingHost{}).Enter(context.Background(), EntryContext{})
	if !errors.Is(err, boom) || errors.Is(err, viewer.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if snap.State == StateUnauthorized || snap.State == StateConfirming {
		t.Fatalf("state = %s", snap.State)
	}
}

func TestEnterAbandonedCreatesNothing(t *testing.T) {
	fx := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	host := &recordingHost{}

	if _, err := NewController(fx.deps, host).Enter(ctx, EntryContext{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(host.events) != 0 {
		t.Fatalf("events = %v", host.events)
	}
}

// D: failure shows the error inline and a retry can succeed.
func TestConfirmFailureThenRetry(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, false)
	fx.mutation.err = errors.New("request rejected")
	host := &recordingHost{withCallback: true}
	c := NewController(fx.deps, host)

	snap, err := c.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if snap.State != StateConfirming || snap.Request.Status != StatusFailed || snap.ConfirmDisabled() {
		t.Fatalf("after failure: %+v", snap)
	}
	if snap.Request.ErrorDetail != "request rejected" {
		t.Fatalf("error detail = %q", snap.Request.ErrorDetail)
	}
	for _, e := range host.events {
		if e == "signal:callback" {
			t.Fatalf("signalled after failure")
		}
	}

	fx.mutation.err = nil
	snap, err = c.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if snap.State != StateNavigated || fx.mutation.calls.Load() != 2 {
		t.Fatalf("retry: state=%s calls=%d", snap.State, fx.mutation.calls.Load())
	}
}

func TestConfirmWhilePendingIssuesNothing(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, false)
	if ok, _ := fx.store.Begin(context.Background(), id, ResetRequest{ID: "other", TargetUserID: "user:1"}); !ok {
		t.Fatalf("begin")
	}
	host := &recordingHost{}

	snap, err := NewController(fx.deps, host).Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if snap.State != StateSubmitting || !snap.ConfirmDisabled() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if fx.mutation.calls.Load() != 0 {
		t.Fatalf("mutation calls = %d", fx.mutation.calls.Load())
	}
}

func TestRemountAfterSuccessDoesNotResubmit(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, true)
	if _, err := NewController(fx.deps, &recordingHost{withCallback: true}).Confirm(context.Background(), id); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	for _, op := range []string{"view", "confirm"} {
		host := &recordingHost{withCallback: true}
		c := NewController(fx.deps, host)
		var err error
		if op == "view" {
			_, err = c.View(context.Background(), id)
		} else {
			_, err = c.Confirm(context.Background(), id)
		}
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		want := []string{"navigate:/reset-cross-signing/success:true"}
		if !reflect.DeepEqual(host.events, want) {
			t.Fatalf("%s events = %v, want %v", op, host.events, want)
		}
	}
	if fx.mutation.calls.Load() != 1 {
		t.Fatalf("mutation calls = %d", fx.mutation.calls.Load())
	}
}

func TestConfirmRequesterGoneSkipsSignal(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	fx.mutation.started = make(chan struct{}, 1)
	fx.mutation.block = make(chan struct{})
	host := &recordingHost{withCallback: true}

	done := make(chan Snapshot, 1)
	go func() {
		snap, err := NewController(fx.deps, host).Confirm(ctx, id)
		if err != nil {
			t.Errorf("confirm: %v", err)
		}
		done <- snap
	}()
	<-fx.mutation.started
	cancel()
	close(fx.mutation.block)
	snap := <-done

	if snap.Request.Status != StatusSucceeded {
		t.Fatalf("status = %s", snap.Request.Status)
	}
	want := []string{"commit:submitting"}
	if !reflect.DeepEqual(host.events, want) {
		t.Fatalf("events = %v, want %v", host.events, want)
	}
}

func TestCancelTargets(t *testing.T) {
	cases := []struct {
		deepLink bool
		want     string
	}{
		{true, "navigate:/reset-cross-signing/cancelled:true"},
		{false, "navigate:/:false"},
	}
	for _, c := range cases {
		fx := newFixture()
		id := fx.enter(t, c.deepLink)
		host := &recordingHost{}

		if _, err := NewController(fx.deps, host).Cancel(context.Background(), id); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if !reflect.DeepEqual(host.events, []string{c.want}) {
			t.Fatalf("deepLink=%v events = %v", c.deepLink, host.events)
		}
		if _, err := fx.store.Get(context.Background(), id); !errors.Is(err, ErrFlowNotFound) {
			t.Fatalf("flow not discarded: %v", err)
		}
		if fx.mutation.calls.Load() != 0 {
			t.Fatalf("cancel must not mutate")
		}
	}
}

func TestCancelAfterSuccessShowsSuccess(t *testing.T) {
	fx := newFixture()
	id := fx.enter(t, true)
	if _, err := NewController(fx.deps, &recordingHost{}).Confirm(context.Background(), id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	host := &recordingHost{}
	if _, err := NewController(fx.deps, host).Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !reflect.DeepEqual(host.events, []string{"navigate:/reset-cross-signing/success:true"}) {
		t.Fatalf("events = %v", host.events)
	}
}

// signalledElsewhere reports the completion signal as already claimed.
type signalledElsewhere struct{ *MemoryFlowStore }

func (signalledElsewhere) MarkSignalled(context.Context, string) (bool, error) { return false, nil }

func TestConfirmSignalsOnlyWhenFirstToMark(t *testing.T) {
	fx := newFixture()
	fx.deps.Store = signalledElsewhere{fx.store}
	id := fx.enter(t, true)
	host := &recordingHost{withCallback: true}

	snap, err := NewController(fx.deps, host).Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	want := []string{"commit:submitting", "commit:completing", "navigate:/reset-cross-signing/success:true"}
	if !reflect.DeepEqual(host.events, want) {
		t.Fatalf("events = %v, want %v", host.events, want)
	}
	if snap.State != StateNavigated {
		t.Fatalf("state = %s", snap.State)
	}
}
