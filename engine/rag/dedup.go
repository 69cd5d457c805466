package rag

import (
	"strings"

	"github.com/medtext/medrag/engine/domain"
	"github.com/medtext/medrag/pkg/fn"
)

const (
	prefixWords = 50
	// MaxContextDocs caps how many distinct passages reach the prompt.
	MaxContextDocs = 10
)

// PrefixKey is the lowercase first 50 words of text joined by single spaces.
// Two documents with the same key are duplicates.
func PrefixKey(text string) string {
	words := strings.Fields(strings.ToLower(text))
	return strings.Join(fn.Take(words, prefixWords), " ")
}

// Deduplicate keeps the first document for every PrefixKey, in incoming
// order, and caps the result at MaxContextDocs.
func Deduplicate(docs []domain.RetrievedDocument) []domain.RetrievedDocument {
	unique := fn.UniqueBy(docs, func(d domain.RetrievedDocument) string { return PrefixKey(d.Text) })
	return fn.Take(unique, MaxContextDocs)
}
