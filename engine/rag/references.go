package rag

import (
	"github.com/medtext/medrag/engine/domain"
)

const (
	DefaultMaxReferences = 3
	DefaultExcerptChars  = 300
	truncationMarker     = "..."
)

// BuildReferences projects the first n documents to citations. Excerpts
// longer than budget runes are clipped and marked.
func BuildReferences(docs []domain.RetrievedDocument, n, budget int) []domain.Reference {
	if n <= 0 {
		n = DefaultMaxReferences
	}
	if budget <= 0 {
		budget = DefaultExcerptChars
	}
	refs := make([]domain.Reference, 0, min(n, len(docs)))
	for _, d := range docs {
		if len(refs) == n {
			break
		}
		refs = append(refs, domain.Reference{
			Book:      d.Book,
			Page:      d.Page,
			Paragraph: d.Paragraph,
			Excerpt:   excerpt(d.Text, budget),
		})
	}
	return refs
}

func excerpt(text string, budget int) string {
	r := []rune(text)
	if len(r) <= budget {
		return text
	}
	return string(r[:budget]) + truncationMarker
}
