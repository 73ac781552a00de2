package models

// KnowledgeChunk is one retrievable passage of product documentation.
// Chunks are loaded once at startup and shared read-only.
type KnowledgeChunk struct {
	SourceID     string   `json:"source_id" yaml:"source_id"`
	SectionTitle string   `json:"section_title" yaml:"section_title"`
	Text         string   `json:"text" yaml:"text"`
	Keywords     []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	// Tokens is precomputed at load time.
	Tokens map[string]struct{} `json:"-" yaml:"-"`
	// TitleTokens is precomputed at load time.
	TitleTokens map[string]struct{} `json:"-" yaml:"-"`
	// Order is the insertion position within the corpus.
	Order int `json:"-" yaml:"-"`
}

// RetrievalResult pairs a chunk with its relevance in [0,1].
type RetrievalResult struct {
	Chunk KnowledgeChunk
	Score float64
	Query string
}
