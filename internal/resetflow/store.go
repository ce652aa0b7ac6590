package resetflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrFlowNotFound = errors.New("reset flow not found")

// FlowStore persists flows. Every status change goes through a
// compare-and-set so concurrent requests for one flow cannot both start an
// attempt.
type FlowStore interface {
	Create(ctx context.Context, f *Flow, ttl time.Duration) error
	// Get returns ErrFlowNotFound for unknown or expired flows.
	Get(ctx context.Context, id string) (*Flow, error)
	// Begin moves the request from not_started/failed to pending as req.
	// It returns false when an attempt is pending or has succeeded.
	Begin(ctx context.Context, id string, req ResetRequest) (bool, error)
	// Finish records the outcome of the pending attempt reqID.
	Finish(ctx context.Context, id, reqID string, status Status, detail string) error
	// MarkSignalled returns true only for the first caller.
	MarkSignalled(ctx context.Context, id string) (bool, error)
	// Discard removes the flow unless an attempt is pending or succeeded.
	Discard(ctx context.Context, id string) (bool, error)
}

type memoryEntry struct {
	flow    Flow
	expires time.Time
}

// MemoryFlowStore keeps flows in process. Suitable for a single instance.
type MemoryFlowStore struct {
	mu    sync.Mutex
	flows map[string]*memoryEntry
	now   func() time.Time
}

func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: make(map[string]*memoryEntry), now: time.Now}
}

// lookup must be called with mu held.
func (s *MemoryFlowStore) lookup(id string) (*memoryEntry, error) {
	e, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	if !s.now().Before(e.expires) {
		delete(s.flows, id)
		return nil, ErrFlowNotFound
	}
	return e, nil
}

// Create stores f and drops every expired flow, so the map never holds
// more than the flows created within one TTL.
func (s *MemoryFlowStore) Create(_ context.Context, f *Flow, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	flow := *f
	if flow.Request.Status == "" {
		flow.Request.Status = StatusNotStarted
	}
	s.flows[f.ID] = &memoryEntry{flow: flow, expires: now.Add(ttl)}
	return nil
}

// sweep must be called with mu held.
func (s *MemoryFlowStore) sweep(now time.Time) {
	for id, e := range s.flows {
		if !now.Before(e.expires) {
			delete(s.flows, id)
		}
	}
}

func (s *MemoryFlowStore) Get(_ context.Context, id string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	f := e.flow
	return &f, nil
}

func (s *MemoryFlowStore) Begin(_ context.Context, id string, req ResetRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	if !e.flow.Request.open() {
		return false, nil
	}
	req.Status = StatusPending
	req.ErrorDetail = ""
	e.flow.Request = req
	return true, nil
}

func (s *MemoryFlowStore) Finish(_ context.Context, id, reqID string, status Status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	if e.flow.Request.ID != reqID || e.flow.Request.Status != StatusPending {
		return nil
	}
	e.flow.Request.Status = status
	e.flow.Request.ErrorDetail = detail
	return nil
}

func (s *MemoryFlowStore) MarkSignalled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	if e.flow.Signalled {
		return false, nil
	}
	e.flow.Signalled = true
	return true, nil
}

func (s *MemoryFlowStore) Discard(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	if !e.flow.Request.open() {
		return false, nil
	}
	delete(s.flows, id)
	return true, nil
}
