// Package vector holds the embedding index of one entity type: records keyed
// by entity id, cosine scoring, and the snapshot codec used to persist them.
package vector

// Record is the embedding of one entity together with the text it was computed from.
type Record struct {
	EntityID   string
	Vector     []float32
	SourceText string
}
