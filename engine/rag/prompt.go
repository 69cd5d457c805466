package rag

import (
	"fmt"
	"strings"

	"github.com/medtext/medrag/engine/domain"
)

// SystemPrompt frames every generation call.
const SystemPrompt = "You are a medical professor at AIIMS. Provide accurate, well-structured medical information."

const promptTemplate = `You are a medical professor teaching AIIMS final year students. Answer the question using ONLY the provided context from medical textbooks.

CONTEXT:
%s

QUESTION: %s

Provide your response in the following format:

ANSWER:
[Direct, concise answer to the question]

TEACHER EXPLANATION:
[Detailed explanation as a professor would teach, including mechanisms, clinical relevance, and key points to remember]

SIMPLIFIED VERSION:
[Explain the concept in simple terms, as if teaching a first-year student]

Remember: Base everything on the provided context. Cite specific sources when making claims.`

// BuildContext labels each document with its book and page and joins them in
// the given order.
func BuildContext(docs []domain.RetrievedDocument) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("[Source %d] %s (Page %d):\n%s\n", i+1, d.Book, d.Page, d.Text)
	}
	return strings.Join(parts, "\n")
}

// BuildPrompt fills the instruction template.
func BuildPrompt(contextBlock, question string) string {
	return fmt.Sprintf(promptTemplate, contextBlock, strings.TrimSpace(question))
}
