// Package pool bounds how many workflow runner processes may be active
// system-wide. Claims are the globally observable side (one row per
// busy workspace, visible to every process); the Pool adds per-process
// "reserved this tick" accounting on top so a scheduler handing out
// slots in a loop never over-commits before the claims catch up.
package pool

import (
	"sort"
	"sync"
)

// Claim marks one workspace as in-use by one running workflow process.
type Claim struct {
	WorkspaceID   string
	WorkflowLabel string
	PID           int
	CLName        string // Attached change record, if any
}

// Registry is the cross-process view of active claims.
type Registry interface {
	// Count returns the number of live claims.
	Count() (int, error)

	// List returns all live claims.
	List() ([]Claim, error)

	// Add records a claim. Adding a workspace that is already claimed
	// is an error.
	Add(c Claim) error

	// Remove drops the claim for a workspace. Removing an unclaimed
	// workspace is a no-op.
	Remove(workspaceID string) error
}

// MemoryRegistry is an in-process Registry for tests and single-process
// runs.
type MemoryRegistry struct {
	mu     sync.Mutex
	claims map[string]Claim
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{claims: make(map[string]Claim)}
}

func (r *MemoryRegistry) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims), nil
}

func (r *MemoryRegistry) List() ([]Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claims := make([]Claim, 0, len(r.claims))
	for _, c := range r.claims {
		claims = append(claims, c)
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].WorkspaceID < claims[j].WorkspaceID })
	return claims, nil
}

func (r *MemoryRegistry) Add(c Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.claims[c.WorkspaceID]; exists {
		return errAlreadyClaimed(c.WorkspaceID)
	}
	r.claims[c.WorkspaceID] = c
	return nil
}

func (r *MemoryRegistry) Remove(workspaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, workspaceID)
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
