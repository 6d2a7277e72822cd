package feeds

import "sync"

// failoverPolicy walks an ordered endpoint list during connection attempts.
// Advancement is non-cyclic: once the last endpoint fails to connect, the
// cycle is exhausted and the feed fails until an external restart rewinds it.
type failoverPolicy struct {
	mu        sync.Mutex
	endpoints []string
	index     int
}

// newFailoverPolicy builds a policy from endpoints, dropping duplicates while
// preserving priority order.
func newFailoverPolicy(endpoints []string) *failoverPolicy {
	seen := make(map[string]struct{}, len(endpoints))
	deduped := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		deduped = append(deduped, e)
	}

	return &failoverPolicy{endpoints: deduped}
}

// Current returns the endpoint to attempt, or "" if the list is empty
func (p *failoverPolicy) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index >= len(p.endpoints) {
		return ""
	}
	return p.endpoints[p.index]
}

// Advance moves to the next endpoint, reporting whether one remains in this
// cycle.
func (p *failoverPolicy) Advance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index+1 >= len(p.endpoints) {
		return false
	}
	p.index++
	return true
}

// Rewind restarts the cycle at the highest-priority endpoint
func (p *failoverPolicy) Rewind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
}

// Len returns the number of distinct endpoints
func (p *failoverPolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// All returns the endpoints in priority order
func (p *failoverPolicy) All() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.endpoints...)
}
