package intake

import (
	"sort"
	"sync"

	"github.com/zmlAEQ/mpc-intake/internal/host"
)

// Registry is the single owned table of pending requests. All mutation goes
// through Insert and RemoveIf; at most one entry exists per fingerprint at
// any instant. Finalize calls arrive from both the HTTP surface and the
// timeout watchdog, so the mutex is load-bearing.
type Registry struct {
	mu      sync.Mutex
	pending map[Fingerprint]host.Token
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[Fingerprint]host.Token)}
}

// Insert binds the fingerprint to the token. Returns true when it overwrote
// a live entry, i.e. an identical request was already pending.
func (r *Registry) Insert(fp Fingerprint, tok host.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.pending[fp]
	r.pending[fp] = tok
	return existed
}

// RemoveIf takes the entry only when it is still bound to tok, in one
// critical section, so a superseded continuation can never evict or
// resurrect its successor's entry. Used by the finalizer.
func (r *Registry) RemoveIf(fp Fingerprint, tok host.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.pending[fp]
	if !ok || stored != tok {
		return false
	}
	delete(r.pending, fp)
	return true
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Fingerprints lists live entries in stable order (observability only).
func (r *Registry) Fingerprints() []Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Fingerprint, 0, len(r.pending))
	for fp := range r.pending {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}
