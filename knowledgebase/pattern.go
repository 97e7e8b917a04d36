// Package knowledgebase implements C5, the typed retrieval surface over C2
// (Embedder) and C3 (VectorStore): the Index/Get/Update/Delete/Search/
// SimilarTo pipeline, sidecar persistence, and the coarse kind-prefix cache
// invalidation policy the specification's Open Question decided in favor of.
package knowledgebase

import "time"

// Kind enumerates the Pattern kinds §3 defines.
type Kind string

const (
	KindCode      Kind = "code"
	KindADR       Kind = "adr"
	KindDoc       Kind = "doc"
	KindDebugNote Kind = "debug-note"
)

// Pattern is the unit of indexable knowledge described in §3.
type Pattern struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter is the conjunctive filter language §4.5 describes.
type Filter struct {
	KindIn       []Kind
	TagsContains string
	Language     string
	UpdatedAfter *time.Time
}

// Scored pairs a Pattern with its similarity score from a search.
type Scored struct {
	Pattern Pattern
	Score   float64
}
