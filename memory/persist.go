package memory

import "sync"

// Persister backs the store with whole-collection replace-on-write
// persistence under a namespaced key.
type Persister interface {
	Save(namespace string, nodes []Node) error
	Load(namespace string) ([]Node, error)
}

// MemoryPersister is a volatile Persister keeping collections in a process
// local map. Best suited for tests and ephemeral demos.
type MemoryPersister struct {
	mu          sync.RWMutex
	collections map[string][]Node
}

// NewMemoryPersister constructs an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{collections: make(map[string][]Node)}
}

// Save replaces the collection stored under namespace.
func (p *MemoryPersister) Save(namespace string, nodes []Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.collections[namespace] = append([]Node(nil), nodes...)
	return nil
}

// Load returns the collection stored under namespace, or empty.
func (p *MemoryPersister) Load(namespace string) ([]Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]Node(nil), p.collections[namespace]...), nil
}
