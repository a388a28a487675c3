package domain

import (
	"context"
	"time"
)

// Document is an embedded knowledge-base entry. Attached documents are also
// linked to one or more tickets.
type Document struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrievedDocument is an excerpt selected for prompt context. It is never
// persisted.
type RetrievedDocument struct {
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// DocumentSearcher is the retrieval collaborator.
type DocumentSearcher interface {
	// SearchSimilar returns up to limit documents whose cosine similarity
	// to query is at least threshold, best first.
	SearchSimilar(ctx context.Context, query []float32, threshold float64, limit int) ([]RetrievedDocument, error)

	// TicketDocuments returns the documents attached to a ticket.
	TicketDocuments(ctx context.Context, ticketID string) ([]RetrievedDocument, error)
}
