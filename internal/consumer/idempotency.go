package consumer

import "sync"

// claimState tracks a processing key through its lifecycle.
type claimState int

const (
	claimInFlight claimState = iota
	claimDone
)

// Guard enforces per-key idempotency under at-least-once delivery. The first
// caller to claim a key wins; concurrent claims for the same key (two workers
// racing on the same redelivered message) are rejected so only one can take
// the non-idempotent action. A released claim may be retried later.
type Guard struct {
	mu    sync.Mutex
	state map[string]claimState
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{state: make(map[string]claimState)}
}

// Claim attempts to claim key. It returns false when the key is already done
// or currently in flight.
func (g *Guard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.state[key]; ok {
		return false
	}
	g.state[key] = claimInFlight
	return true
}

// Done marks a claimed key as permanently processed.
func (g *Guard) Done(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state[key] = claimDone
}

// Release abandons a claim after a failure so a redelivery can retry the key.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state[key] == claimInFlight {
		delete(g.state, key)
	}
}
