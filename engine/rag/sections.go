package rag

import "strings"

const (
	markerAnswer      = "ANSWER:"
	markerExplanation = "TEACHER EXPLANATION:"
	markerSimplified  = "SIMPLIFIED VERSION:"
	simpleTermsHeader = "\n\n**In Simple Terms:**\n"
)

// Sections is a generated answer split on its section markers.
type Sections struct {
	Answer      string
	Explanation string // includes the simplified text under a header when present
	Simplified  string
	Structured  bool // false when the markers were missing and Answer is the raw text
}

// ParseSections splits text on the ANSWER / TEACHER EXPLANATION / SIMPLIFIED
// VERSION markers. It never fails: without the explanation marker the whole
// text becomes the answer.
func ParseSections(text string) Sections {
	head, rest, found := strings.Cut(text, markerExplanation)
	if !found {
		return Sections{Answer: strings.TrimSpace(text)}
	}

	s := Sections{
		Answer:     strings.TrimSpace(strings.Replace(head, markerAnswer, "", 1)),
		Structured: true,
	}
	explanation, simplified, hasSimple := strings.Cut(rest, markerSimplified)
	s.Explanation = strings.TrimSpace(explanation)
	if hasSimple {
		s.Simplified = strings.TrimSpace(simplified)
		if s.Simplified != "" {
			s.Explanation += simpleTermsHeader + s.Simplified
		}
	}
	if s.Answer == "" {
		s.Answer = strings.TrimSpace(text)
		s.Structured = false
	}
	return s
}
