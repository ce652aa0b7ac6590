package resetflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// storeFactory returns a fresh store and a function moving its clock.
type storeFactory func(t *testing.T) (FlowStore, func(time.Duration))

func memoryStore(t *testing.T) (FlowStore, func(time.Duration)) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryFlowStore()
	s.now = func() time.Time { return now }
	return s, func(d time.Duration) { now = now.Add(d) }
}

func redisStore(t *testing.T) (FlowStore, func(time.Duration)) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFlowStore(client), mr.FastForward
}

var flowStores = map[string]storeFactory{
	"memory": memoryStore,
	"redis":  redisStore,
}

func TestFlowStoreTransitions(t *testing.T) {
	for name, newStore := range flowStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newStore(t)
			f := newTestFlow(t, s, "user:1")

			ok, err := s.Begin(ctx, f.ID, ResetRequest{ID: "r1", TargetUserID: "user:1"})
			if err != nil || !ok {
				t.Fatalf("begin: ok=%v err=%v", ok, err)
			}
			if ok, _ := s.Begin(ctx, f.ID, ResetRequest{ID: "r2"}); ok {
				t.Fatalf("begin while pending must not apply")
			}
			if ok, _ := s.Discard(ctx, f.ID); ok {
				t.Fatalf("discard while pending must not apply")
			}

			// An outcome for another attempt is ignored.
			if err := s.Finish(ctx, f.ID, "r0", StatusSucceeded, ""); err != nil {
				t.Fatalf("finish stale: %v", err)
			}
			got, _ := s.Get(ctx, f.ID)
			if got.Request.Status != StatusPending || got.Request.ID != "r1" || got.Request.TargetUserID != "user:1" {
				t.Fatalf("stale finish applied: %+v", got.Request)
			}

			if err := s.Finish(ctx, f.ID, "r1", StatusFailed, "boom"); err != nil {
				t.Fatalf("finish: %v", err)
			}
			got, _ = s.Get(ctx, f.ID)
			if got.Request.Status != StatusFailed || got.Request.ErrorDetail != "boom" {
				t.Fatalf("after failure: %+v", got.Request)
			}

			if ok, _ := s.Begin(ctx, f.ID, ResetRequest{ID: "r2", TargetUserID: "user:1"}); !ok {
				t.Fatalf("begin after failure should apply")
			}
			got, _ = s.Get(ctx, f.ID)
			if got.Request.ErrorDetail != "" || got.Request.ID != "r2" {
				t.Fatalf("new attempt kept old state: %+v", got.Request)
			}
			if err := s.Finish(ctx, f.ID, "r2", StatusSucceeded, ""); err != nil {
				t.Fatalf("finish: %v", err)
			}
			if ok, _ := s.Begin(ctx, f.ID, ResetRequest{ID: "r3"}); ok {
				t.Fatalf("begin after success must not apply")
			}
			if ok, _ := s.Discard(ctx, f.ID); ok {
				t.Fatalf("discard after success must not apply")
			}

			if first, _ := s.MarkSignalled(ctx, f.ID); !first {
				t.Fatalf("first MarkSignalled should report true")
			}
			if again, _ := s.MarkSignalled(ctx, f.ID); again {
				t.Fatalf("second MarkSignalled should report false")
			}
			got, _ = s.Get(ctx, f.ID)
			if got.State() != StateNavigated || got.UserID != "user:1" {
				t.Fatalf("final flow = %+v", got)
			}
		})
	}
}

func TestFlowStoreDiscardAndExpiry(t *testing.T) {
	for name, newStore := range flowStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, advance := newStore(t)

			// Flows saved without an explicit status start out not_started.
			_ = s.Create(ctx, &Flow{ID: "a", UserID: "user:1"}, time.Minute)
			_ = s.Create(ctx, &Flow{ID: "b", UserID: "user:1", Entry: EntryContext{DeepLink: true}}, time.Minute)

			got, err := s.Get(ctx, "b")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Request.Status != StatusNotStarted || !got.Entry.DeepLink {
				t.Fatalf("stored flow = %+v", got)
			}

			if ok, err := s.Discard(ctx, "a"); err != nil || !ok {
				t.Fatalf("discard: ok=%v err=%v", ok, err)
			}
			if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("discarded flow: err = %v", err)
			}

			advance(time.Minute)
			if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("expired flow: err = %v", err)
			}
			if _, err := s.Begin(ctx, "b", ResetRequest{ID: "r"}); !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("begin on expired flow: err = %v", err)
			}
			if _, err := s.MarkSignalled(ctx, "b"); !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("signal on expired flow: err = %v", err)
			}
			if _, err := s.Discard(ctx, "b"); !errors.Is(err, ErrFlowNotFound) {
				t.Fatalf("discard on expired flow: err = %v", err)
			}
		})
	}
}

func TestMemoryFlowStoreDropsExpiredFlows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryFlowStore()
	s.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		_ = s.Create(ctx, &Flow{ID: fmt.Sprintf("old-%d", i), UserID: "user:1"}, time.Minute)
	}
	now = now.Add(time.Hour)
	_ = s.Create(ctx, &Flow{ID: "fresh", UserID: "user:1"}, time.Minute)

	if n := len(s.flows); n != 1 {
		t.Fatalf("flows held after expiry = %d, want 1", n)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh flow: %v", err)
	}
}

func TestFlowStateAndCancelTarget(t *testing.T) {
	cases := []struct {
		req       ResetRequest
		signalled bool
		want      State
	}{
		{ResetRequest{}, false, StateConfirming},
		{ResetRequest{Status: StatusNotStarted}, false, StateConfirming},
		{ResetRequest{Status: StatusFailed, ErrorDetail: "x"}, false, StateConfirming},
		{ResetRequest{Status: StatusPending}, false, StateSubmitting},
		{ResetRequest{Status: StatusSucceeded}, false, StateCompleting},
		{ResetRequest{Status: StatusSucceeded}, true, StateNavigated},
	}
	for _, c := range cases {
		f := &Flow{Request: c.req, Signalled: c.signalled}
		if got := f.State(); got != c.want {
			t.Fatalf("State(%+v) = %s, want %s", c.req, got, c.want)
		}
	}
	if !(ResetRequest{}).open() {
		t.Fatalf("a request that never started must be open")
	}
	if CancelTarget(EntryContext{DeepLink: true}) != RouteCancelled {
		t.Fatalf("deep-link cancel should go to the cancelled route")
	}
	if CancelTarget(EntryContext{}) != RouteHome {
		t.Fatalf("in-app cancel should go home")
	}
}
