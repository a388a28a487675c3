// Package knowledge assembles retrieved context for the ticket agent.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"supportdesk/internal/domain"
)

const (
	DefaultThreshold = 0.7
	DefaultTopK      = 5
)

// Retriever finds documents relevant to a free-text query. Retrieval is
// best effort: backend failures degrade to an empty result.
type Retriever struct {
	embedder  domain.Embedder
	searcher  domain.DocumentSearcher
	threshold float64
	topK      int
	logger    *slog.Logger
}

type RetrieverConfig struct {
	Embedder  domain.Embedder
	Searcher  domain.DocumentSearcher
	Threshold float64 // minimum cosine similarity (default: 0.7)
	TopK      int     // maximum semantic hits (default: 5)
	Logger    *slog.Logger
}

func NewRetriever(cfg RetrieverConfig) *Retriever {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		embedder:  cfg.Embedder,
		searcher:  cfg.Searcher,
		threshold: cfg.Threshold,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}
}

// Retrieve returns up to topK semantic hits for query, followed by the
// documents attached to ticketID when one is given. Documents are unique by
// ID; a semantic hit wins over the attached copy. Never returns nil.
func (r *Retriever) Retrieve(ctx context.Context, query, ticketID string) []domain.RetrievedDocument {
	docs := []domain.RetrievedDocument{}
	seen := make(map[string]bool)
	add := func(d domain.RetrievedDocument) {
		if d.DocumentID != "" && seen[d.DocumentID] {
			return
		}
		seen[d.DocumentID] = true
		docs = append(docs, d)
	}

	for _, d := range r.semantic(ctx, query) {
		add(d)
	}

	if ticketID != "" && r.searcher != nil {
		attached, err := r.searcher.TicketDocuments(ctx, ticketID)
		if err != nil {
			r.logger.Warn("attached document lookup failed, continuing without", "ticket", ticketID, "error", err)
		}
		for _, d := range attached {
			add(d)
		}
	}

	r.logger.Debug("context retrieved", "ticket", ticketID, "documents", len(docs))
	return docs
}

func (r *Retriever) semantic(ctx context.Context, query string) []domain.RetrievedDocument {
	if r.embedder == nil || r.searcher == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, continuing without context", "embedder", r.embedder.Name(), "error", err)
		return nil
	}
	hits, err := r.searcher.SearchSimilar(ctx, vec, r.threshold, r.topK)
	if err != nil {
		r.logger.Warn("similarity search failed, continuing without context", "error", err)
		return nil
	}
	return hits
}

// BuildContext renders retrieved documents for prompt injection. Output
// depends only on the input order and content.
func BuildContext(docs []domain.RetrievedDocument) string {
	if len(docs) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "### Source: %s (score %.2f)\n", d.Source, d.Score)
		sb.WriteString(strings.TrimSpace(d.Content))
		if i < len(docs)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}
