package ingest

import (
	"time"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/pdftext"
)

// Request names one PDF and the book label attached to its chunks.
type Request struct {
	Path string `json:"path"`
	Book string `json:"book"`
}

// Result summarises a finished ingestion run.
type Result struct {
	Book     domain.Book   `json:"book"`
	Duration time.Duration `json:"duration"`
}

// Job is the message published for asynchronous ingestion.
type Job struct {
	ID          string    `json:"id"`
	Request     Request   `json:"request"`
	RequestedAt time.Time `json:"requested_at"`
}

// Completion is published after a job finishes, successfully or not.
type Completion struct {
	JobID   string `json:"job_id"`
	Book    string `json:"book"`
	Chunks  int    `json:"chunks"`
	Error   string `json:"error,omitempty"`
	Retries int    `json:"retries"`
}

// deadLetter is published once a job exhausted its retries.
type deadLetter struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// Values passed between pipeline stages.
type (
	extracted struct {
		req   Request
		meta  pdftext.Metadata
		pages []domain.Page
		start time.Time
	}
	segmented struct {
		extracted
		chunks []domain.Chunk
	}
	embedded struct {
		segmented
		records []domain.VectorRecord
	}
)
