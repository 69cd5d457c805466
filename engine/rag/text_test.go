package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medtext/medrag/engine/domain"
)

func doc(id, book string, page int, score float32, text string) domain.RetrievedDocument {
	return domain.RetrievedDocument{ID: id, Book: book, Page: page, Paragraph: 1, Score: score, Text: text}
}

func TestPrefixKey(t *testing.T) {
	assert.Equal(t, "the heart has four chambers", PrefixKey("  The HEART\nhas   four chambers "))

	long := strings.Repeat("word ", 80)
	assert.Len(t, strings.Fields(PrefixKey(long)), 50)
}

func TestDeduplicateKeepsFirstInOrder(t *testing.T) {
	shared := strings.Repeat("cardiac output equals stroke volume times heart rate ", 8)
	docs := []domain.RetrievedDocument{
		doc("a", "Guyton", 10, 0.9, shared+"tail one"),
		doc("b", "Ganong", 4, 0.8, "renal clearance"),
		doc("c", "Harrison", 99, 0.7, shared+"tail two"),
		doc("d", "Guyton", 11, 0.6, "Renal   CLEARANCE"),
	}

	got := Deduplicate(docs)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, ids(got), ids(Deduplicate(got)), "deduplication must be idempotent")
}

func TestDeduplicateCaps(t *testing.T) {
	var docs []domain.RetrievedDocument
	for i := range 15 {
		docs = append(docs, doc(fmt.Sprint(i), "B", i, 1, fmt.Sprintf("unique passage %d", i)))
	}
	assert.Len(t, Deduplicate(docs), MaxContextDocs)
	assert.Empty(t, Deduplicate(nil))
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]domain.RetrievedDocument{
		doc("a", "Guyton", 10, 0.9, "first"),
		doc("b", "Ganong", 4, 0.8, "second"),
	})
	want := "[Source 1] Guyton (Page 10):\nfirst\n\n[Source 2] Ganong (Page 4):\nsecond\n"
	assert.Equal(t, want, got)
	assert.Equal(t, "", BuildContext(nil))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("CTX", "  What is shock?  ")
	assert.Contains(t, p, "CONTEXT:\nCTX\n")
	assert.Contains(t, p, "QUESTION: What is shock?\n")
	for _, m := range []string{markerAnswer, markerExplanation, markerSimplified} {
		assert.Contains(t, p, m)
	}
}

func TestParseSections(t *testing.T) {
	t.Run("all markers", func(t *testing.T) {
		s := ParseSections("ANSWER:\nShort.\n\nTEACHER EXPLANATION:\nLong form.\n\nSIMPLIFIED VERSION:\nEasy.")
		assert.True(t, s.Structured)
		assert.Equal(t, "Short.", s.Answer)
		assert.Equal(t, "Easy.", s.Simplified)
		assert.Equal(t, "Long form.\n\n**In Simple Terms:**\nEasy.", s.Explanation)
	})

	t.Run("no simplified", func(t *testing.T) {
		s := ParseSections("ANSWER: yes\nTEACHER EXPLANATION: because")
		assert.Equal(t, "yes", s.Answer)
		assert.Equal(t, "because", s.Explanation)
		assert.Empty(t, s.Simplified)
	})

	t.Run("no markers", func(t *testing.T) {
		s := ParseSections("  just text  ")
		assert.False(t, s.Structured)
		assert.Equal(t, "just text", s.Answer)
		assert.Empty(t, s.Explanation)
	})

	t.Run("empty answer falls back to raw", func(t *testing.T) {
		s := ParseSections("ANSWER:\nTEACHER EXPLANATION: only this")
		assert.False(t, s.Structured)
		assert.Equal(t, "ANSWER:\nTEACHER EXPLANATION: only this", s.Answer)
	})
}

func TestBuildReferences(t *testing.T) {
	long := strings.Repeat("é", 350)
	docs := []domain.RetrievedDocument{
		doc("a", "Guyton", 10, 0.9, long),
		doc("b", "Ganong", 4, 0.8, "short"),
		doc("c", "Harrison", 7, 0.7, "c"),
		doc("d", "Robbins", 1, 0.6, "d"),
	}

	refs := BuildReferences(docs, 3, 300)
	assert.Len(t, refs, 3)
	assert.Equal(t, "Guyton", refs[0].Book)
	assert.Equal(t, 10, refs[0].Page)
	assert.Equal(t, strings.Repeat("é", 300)+"...", refs[0].Excerpt)
	assert.Equal(t, "short", refs[1].Excerpt)

	assert.Len(t, BuildReferences(docs[:1], 0, 0), 1, "defaults apply")
	assert.Empty(t, BuildReferences(nil, 3, 300))
}

func ids(docs []domain.RetrievedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
