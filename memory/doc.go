// Package memory implements the bounded, similarity-searchable memory store.
//
// Nodes carry an embedding obtained from an external embedding provider and
// are kept most-recent-first. Search ranks by cosine similarity; pinned
// nodes are exempt from relevance filtering and from capacity eviction.
// The whole collection is persisted under a single namespaced key with
// replace-on-write semantics.
//
// Embedding provider failures degrade: Add returns no node, Search returns
// empty results. The system stays usable without vector memory.
package memory
