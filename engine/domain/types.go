// Package domain defines the core types, error taxonomy, and validation for
// the medrag ingestion and query pipelines. Every other engine package speaks
// in these types.
package domain

import "time"

// Page is the text of one PDF page. PageNumber is 1-based and refers to the
// page's position in the source file, so gaps appear where blank pages were
// skipped.
type Page struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
}

// Chunk is a word window taken from exactly one paragraph of one page.
type Chunk struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Book       string `json:"book"`
	Page       int    `json:"page"`
	Paragraph  int    `json:"paragraph"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkMetadata is the metadata persisted next to every vector.
type ChunkMetadata struct {
	Book       string `json:"book"`
	Page       int    `json:"page"`
	Paragraph  int    `json:"paragraph"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// VectorRecord is an embedded chunk ready for the index. ID equals the
// originating Chunk.ID.
type VectorRecord struct {
	ID       string        `json:"id"`
	Values   []float32     `json:"values"`
	Metadata ChunkMetadata `json:"metadata"`
}

// RetrievedDocument is a read-only projection of a VectorRecord returned by a
// similarity query.
type RetrievedDocument struct {
	ID        string  `json:"id"`
	Score     float32 `json:"score"`
	Text      string  `json:"text"`
	Book      string  `json:"book"`
	Page      int     `json:"page"`
	Paragraph int     `json:"paragraph"`
}

// Reference is a citation shown next to an answer.
type Reference struct {
	Book      string `json:"book"`
	Page      int    `json:"page"`
	Paragraph int    `json:"paragraph,omitempty"`
	Excerpt   string `json:"excerpt"`
}

// AnswerStatus tells callers how an answer was produced.
type AnswerStatus string

const (
	StatusSuccess  AnswerStatus = "success"
	StatusDegraded AnswerStatus = "degraded"
	StatusNoResult AnswerStatus = "no_result"
)

// Answer is the final structured response for one question.
type Answer struct {
	Status      AnswerStatus        `json:"status"`
	Content     string              `json:"content"`
	Explanation string              `json:"explanation,omitempty"`
	Simplified  string              `json:"simplified,omitempty"`
	Raw         string              `json:"raw,omitempty"`
	Model       string              `json:"model,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	References  []Reference         `json:"references"`
	Documents   []RetrievedDocument `json:"documents,omitempty"`
	Elapsed     time.Duration       `json:"elapsed"`
}

// IndexStats summarises the contents of a vector index.
type IndexStats struct {
	TotalVectorCount int64 `json:"total_vector_count"`
	Dimension        int   `json:"dimension,omitempty"`
}

// Book is a catalog entry for an ingested textbook.
type Book struct {
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
	FileSize   int64     `json:"file_size"`
	IngestedAt time.Time `json:"ingested_at"`
}
