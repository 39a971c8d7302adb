package models

// ScoredItem is one retrieval hit.
type ScoredItem struct {
	ID    string         `json:"id"`
	Score float64        `json:"score"`
	Item  *KnowledgeItem `json:"item,omitempty"`
}

// RetrievalResult is the merged hit list for one chunk's queries. Items are unique by ID,
// sorted by descending score.
type RetrievalResult struct {
	ChunkIndex int           `json:"chunk_index"`
	QueryCount int           `json:"query_count"`
	Items      []*ScoredItem `json:"items"`
}

// EnrichedChunk is a chunk together with the knowledge retrieved for it, ready for prompt assembly.
type EnrichedChunk struct {
	Chunk      *Chunk        `json:"chunk"`
	Results    []*ScoredItem `json:"results"`
	QueryCount int           `json:"query_count"`
	// QueryFallback is set when HyDE generation failed and the raw chunk text was used as the query.
	QueryFallback bool `json:"query_fallback,omitempty"`
	// Degraded is set when retrieval failed and Results is empty for that reason.
	Degraded bool     `json:"degraded,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}
