package models

// ChunkKind labels the structural unit a chunk was cut from.
type ChunkKind string

const (
	KindSection   ChunkKind = "section"
	KindCommand   ChunkKind = "command"
	KindSentence  ChunkKind = "sentence"
	KindParagraph ChunkKind = "paragraph"
	KindPreamble  ChunkKind = "preamble"
)

// NoParent marks a chunk without a parent back-reference.
const NoParent = -1

// Chunk is a bounded span [Start, End) of a Document's text. Offsets are byte offsets
// and always fall on rune boundaries.
type Chunk struct {
	Index int       `json:"index"`
	Start int       `json:"start"`
	End   int       `json:"end"`
	Text  string    `json:"text"`
	Kind  ChunkKind `json:"kind"`
	// ParentIndex points at the chunk that opens the same structural unit, or NoParent.
	ParentIndex int `json:"parent_index"`
	// Overlap is the number of leading bytes shared with the previous chunk.
	Overlap   int  `json:"overlap,omitempty"`
	Oversized bool `json:"oversized,omitempty"`
}

// HasParent reports whether the chunk carries a parent back-reference.
func (c *Chunk) HasParent() bool {
	return c.ParentIndex != NoParent
}

// CoreStart is the first byte owned exclusively by this chunk.
func (c *Chunk) CoreStart() int {
	return c.Start + c.Overlap
}
