package models

// SearchResult is an entity decorated with its similarity to a query.
// Results are built per query and never cached.
type SearchResult struct {
	Entity          *Entity `json:"entity"`
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
}

// SearchResponse is the answer to one free-text query.
type SearchResponse struct {
	Query      string          `json:"query"`
	EntityType string          `json:"entity_type"`
	Results    []*SearchResult `json:"results"`
	QueryTime  int64           `json:"query_time_ms"`
}
