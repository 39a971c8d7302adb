package models

import "time"

// HyDEQuery holds the hypothetical document generated for one chunk and the query strings
// derived from it. It lives only until retrieval for the chunk completes.
type HyDEQuery struct {
	ChunkIndex   int       `json:"chunk_index"`
	Hypothetical string    `json:"hypothetical,omitempty"`
	Queries      []string  `json:"queries"`
	CreatedAt    time.Time `json:"created_at"`
	// Fallback is set when the queries were taken from the chunk's raw text.
	Fallback       bool   `json:"fallback,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}
