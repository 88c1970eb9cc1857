// Package sessions holds the cross-connection state of the live
// gateway: the slot registry that enforces single-ownership of a voice
// slot, and the conversation store for resumption handles and
// screenshot fingerprints.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry hands out supersession tokens. Tokens are drawn from one
// process-wide monotonic counter; claiming a slot invalidates the
// previous claim for that slot and cancels its session.
type Registry struct {
	mu      sync.Mutex
	slots   map[string]*slotState
	wg      sync.WaitGroup
	counter atomic.Int64
}

type slotState struct {
	token  int64
	cancel func()
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slotState)}
}

// Claim takes ownership of the named slot. The previous owner's cancel
// func, if any, is invoked after the swap so at most one claim is
// current at any instant.
func (r *Registry) Claim(slot string, cancel func()) *Claim {
	token := r.counter.Add(1)

	r.mu.Lock()
	if r.slots == nil {
		r.slots = make(map[string]*slotState)
	}
	old := r.slots[slot]
	r.slots[slot] = &slotState{token: token, cancel: cancel}
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil && old.cancel != nil {
		old.cancel()
	}
	return &Claim{reg: r, slot: slot, token: token}
}

// Claim is one ownership of a slot. Active reports whether it is still
// the current owner; a false result is the supersession signal pumps
// poll for.
type Claim struct {
	reg   *Registry
	slot  string
	token int64
	once  sync.Once
}

func (c *Claim) Token() int64 { return c.token }

func (c *Claim) Active() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	st := c.reg.slots[c.slot]
	return st != nil && st.token == c.token
}

// Release drops the claim. Safe to call more than once; a claim that
// was already superseded only settles the wait group.
func (c *Claim) Release() {
	c.once.Do(func() {
		c.reg.mu.Lock()
		if st := c.reg.slots[c.slot]; st != nil && st.token == c.token {
			delete(c.reg.slots, c.slot)
		}
		c.reg.mu.Unlock()
		c.reg.wg.Done()
	})
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// CancelAll cancels every current claim, for shutdown.
func (r *Registry) CancelAll() (canceled int) {
	var cancels []func()
	r.mu.Lock()
	for _, st := range r.slots {
		if st != nil && st.cancel != nil {
			cancels = append(cancels, st.cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every claim has been released, or ctx expires.
func (r *Registry) Wait(ctx context.Context) bool {
	if ctx == nil {
		r.wg.Wait()
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
