package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/mesherror"
)

// DefaultCapacity is the node count the eviction policy keeps the store at.
const DefaultCapacity = 200

// DefaultNamespace is the persisted key the collection lives under.
const DefaultNamespace = "toolmesh.memory"

// Embedder is the capability the store needs from an external embedding
// provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// NodeType tags the origin of a memory node.
type NodeType string

const (
	// NodeTypeUserFact marks a fact stated by or about the user.
	NodeTypeUserFact NodeType = "user_fact"
	// NodeTypeInteraction marks a conversation fragment.
	NodeTypeInteraction NodeType = "interaction"
	// NodeTypeSystemNote marks an internal system annotation.
	NodeTypeSystemNote NodeType = "system_note"
)

// Node is one stored memory fragment. Relevance is transient, recomputed per
// search and never persisted meaningfully.
type Node struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding"`
	Timestamp time.Time `json:"timestamp"`
	Type      NodeType  `json:"type"`
	Tags      []string  `json:"tags,omitempty"`
	Relevance float64   `json:"-"`
	Pinned    bool      `json:"is_pinned"`
}

// Options configures a Store.
type Options struct {
	// Capacity is the eviction bound C. Pinned nodes may push the total
	// above it.
	Capacity int
	// Namespace is the persisted collection key.
	Namespace string
	// Persister backs the collection. Defaults to an in-memory persister.
	Persister Persister
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Store is the bounded memory store. Nodes are held most-recent-first.
// Safe for concurrent use.
type Store struct {
	embedder  Embedder
	capacity  int
	namespace string
	persister Persister
	logger    logging.Logger

	mu    sync.RWMutex
	nodes []Node
}

// New constructs a Store and loads any previously persisted collection.
func New(embedder Embedder, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Capacity:  DefaultCapacity,
		Namespace: DefaultNamespace,
		Persister: NewMemoryPersister(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		embedder:  embedder,
		capacity:  opts.Capacity,
		namespace: opts.Namespace,
		persister: opts.Persister,
		logger:    opts.Logger,
	}

	nodes, err := s.persister.Load(s.namespace)
	if err != nil {
		return nil, err
	}
	s.nodes = nodes

	return s, nil
}

// Add embeds content, assigns id and timestamp, prepends the node and
// persists. An embedding failure returns no node and leaves the store
// untouched.
func (s *Store) Add(ctx context.Context, content string, typ NodeType, tags []string) (*Node, error) {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("memory.add.embed_failed", "error", err.Error())
		return nil, mesherror.Wrap(err, mesherror.KindEmbedding, "embed content")
	}

	node := Node{
		ID:        uuid.NewString(),
		Content:   content,
		Embedding: embedding,
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Tags:      append([]string(nil), tags...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Mutate on a fresh slice so a persist failure can roll back to the
	// previous state instead of leaving memory ahead of the persister.
	prev := s.nodes
	s.nodes = append([]Node{node}, s.nodes...)
	s.evictLocked()

	if err := s.persistLocked(); err != nil {
		s.nodes = prev
		return nil, err
	}

	return &node, nil
}

// TogglePin flips the pin flag of a node and persists. Returns the new pin
// state.
func (s *Store) TogglePin(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].ID == id {
			s.nodes[i].Pinned = !s.nodes[i].Pinned
			if err := s.persistLocked(); err != nil {
				s.nodes[i].Pinned = !s.nodes[i].Pinned
				return false, err
			}
			return s.nodes[i].Pinned, nil
		}
	}

	return false, mesherror.Newf(mesherror.KindToolNotFound, "memory node %q not found", id)
}

// Search embeds the query and returns up to limit nodes with cosine
// similarity >= minSimilarity, ranked descending. An embedding failure
// degrades to an empty result, not an error.
func (s *Store) Search(ctx context.Context, query string, limit int, minSimilarity float64) ([]Node, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("memory.search.embed_failed", "error", err.Error())
		return []Node{}, nil
	}

	s.mu.RLock()
	matches := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		node.Relevance = Cosine(queryEmbedding, node.Embedding)
		if node.Relevance >= minSimilarity {
			matches = append(matches, node)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// Recent returns the most recent nodes by timestamp regardless of relevance.
func (s *Store) Recent(limit int) []Node {
	s.mu.RLock()
	out := append([]Node(nil), s.nodes...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Pinned returns all pinned nodes unconditionally.
func (s *Store) Pinned() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Node
	for _, node := range s.nodes {
		if node.Pinned {
			out = append(out, node)
		}
	}
	return out
}

// Len returns the number of stored nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}

// Delete removes one node by id and persists.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].ID == id {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			return s.persistLocked()
		}
	}

	return mesherror.Newf(mesherror.KindToolNotFound, "memory node %q not found", id)
}

// Clear removes all unpinned nodes and persists. Pinned nodes survive.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.nodes[:0]
	for _, node := range s.nodes {
		if node.Pinned {
			kept = append(kept, node)
		}
	}
	s.nodes = kept

	return s.persistLocked()
}

// PurgeAll removes every node, pinned included, and persists.
func (s *Store) PurgeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = nil
	return s.persistLocked()
}

// evictLocked applies the capacity policy: pinned nodes are always retained
// in full; unpinned nodes are kept most-recent-first up to
// max(0, capacity - pinnedCount). Total size may exceed capacity when the
// pinned count alone exceeds it. Caller holds the write lock.
func (s *Store) evictLocked() {
	if len(s.nodes) <= s.capacity {
		return
	}

	var pinned, unpinned []Node
	for _, node := range s.nodes {
		if node.Pinned {
			pinned = append(pinned, node)
		} else {
			unpinned = append(unpinned, node)
		}
	}

	sort.SliceStable(unpinned, func(i, j int) bool {
		return unpinned[i].Timestamp.After(unpinned[j].Timestamp)
	})

	keep := s.capacity - len(pinned)
	if keep < 0 {
		keep = 0
	}
	if len(unpinned) > keep {
		s.logger.Debug("memory.evicted", "dropped", len(unpinned)-keep, "pinned", len(pinned))
		unpinned = unpinned[:keep]
	}

	// Retained union, most-recent-first, is the new store.
	merged := append(pinned, unpinned...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	s.nodes = merged
}

// persistLocked writes the whole collection under the namespace key.
// Caller holds the write lock.
func (s *Store) persistLocked() error {
	return s.persister.Save(s.namespace, s.nodes)
}

// Cosine computes cosine similarity dot(a,b) / (|a|*|b|). It is defined as
// 0 when either vector has zero magnitude or the dimensions mismatch, so a
// provider dimensionality change degrades comparisons instead of failing.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
