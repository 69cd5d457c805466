package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	minQuestionLength = 3
	maxQuestionLength = 2000
	maxBookNameLength = 200
)

// ValidateQuestion checks a user question before it reaches the embedder.
func ValidateQuestion(q string) error {
	text := strings.TrimSpace(q)
	n := utf8.RuneCountInString(text)
	if n < minQuestionLength {
		return NewValidationError("question", text, fmt.Errorf("%w: shorter than %d characters", ErrInvalidInput, minQuestionLength))
	}
	if n > maxQuestionLength {
		return NewValidationError("question", text[:64], fmt.Errorf("%w: longer than %d characters", ErrInvalidInput, maxQuestionLength))
	}
	return nil
}

// ValidateBookName checks the label attached to every chunk of a book.
// Chunk ids are built from it, so it must not be blank or contain line breaks.
func ValidateBookName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return NewValidationError("book", name, fmt.Errorf("%w: empty book name", ErrInvalidInput))
	case utf8.RuneCountInString(trimmed) > maxBookNameLength:
		return NewValidationError("book", trimmed[:32], fmt.Errorf("%w: book name longer than %d characters", ErrInvalidInput, maxBookNameLength))
	case strings.ContainsAny(trimmed, "\r\n"):
		return NewValidationError("book", trimmed, fmt.Errorf("%w: book name contains a line break", ErrInvalidInput))
	}
	return nil
}
