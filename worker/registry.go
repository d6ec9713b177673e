package worker

import (
	"fmt"
	"sort"
	"sync"
)

// ExecutorHandle is the cooperative cancellation handle for one executor
// run. Stop is advisory: the executor checks it at the top of each row and
// inside the rate-limit sleep, so cancellation is at-most-one-row-late.
type ExecutorHandle struct {
	CampaignID uint

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

func newExecutorHandle(campaignID uint) *ExecutorHandle {
	return &ExecutorHandle{
		CampaignID: campaignID,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Stop sets the stop flag. Safe to call multiple times.
func (h *ExecutorHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Stopped is closed once a stop has been requested.
func (h *ExecutorHandle) Stopped() <-chan struct{} { return h.stop }

// Done is closed when the executor run has fully exited.
func (h *ExecutorHandle) Done() <-chan struct{} { return h.done }

func (h *ExecutorHandle) markDone() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *ExecutorHandle) stopRequested() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Registry tracks live executors keyed by campaign id. The per-campaign
// add lock guarantees at most one executor instance per campaign; the
// global single-running invariant is the scheduler's responsibility.
type Registry struct {
	mu      sync.Mutex
	handles map[uint]*ExecutorHandle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[uint]*ExecutorHandle)}
}

// Add registers a new executor for a campaign. Duplicate submissions for
// the same campaign id are rejected.
func (r *Registry) Add(campaignID uint) (*ExecutorHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[campaignID]; exists {
		return nil, fmt.Errorf("executor already active for campaign %d", campaignID)
	}
	h := newExecutorHandle(campaignID)
	r.handles[campaignID] = h
	return h, nil
}

// Remove deregisters a finished executor.
func (r *Registry) Remove(campaignID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, campaignID)
}

// Get returns the live handle for a campaign, if any.
func (r *Registry) Get(campaignID uint) (*ExecutorHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[campaignID]
	return h, ok
}

// Has reports whether a live executor exists for the campaign.
func (r *Registry) Has(campaignID uint) bool {
	_, ok := r.Get(campaignID)
	return ok
}

// Signal requests a stop for the campaign's executor. Returns false when no
// executor is live.
func (r *Registry) Signal(campaignID uint) bool {
	h, ok := r.Get(campaignID)
	if !ok {
		return false
	}
	h.Stop()
	return true
}

// ActiveIDs lists the campaigns with a live executor, sorted.
func (r *Registry) ActiveIDs() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of live executors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
