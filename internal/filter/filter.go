package filter

import (
	"fmt"
	"regexp"
)

// Verdict explains why a message was dropped or kept.
type Verdict int

const (
	// Accepted means the message survived both stages.
	Accepted Verdict = iota
	// Rejected means a reject-list pattern matched.
	Rejected
	// NoIntent means the intent list is non-empty and nothing matched.
	NoIntent
)

// Classifier is the two-stage relevance filter gating extraction.
//
// The reject list is evaluated first and short-circuits: obviously irrelevant
// messages never reach the rate-limited extraction stage. The intent list is
// then required to match unless it is empty, which means pass-through.
type Classifier struct {
	reject []*regexp.Regexp
	intent []*regexp.Regexp
}

// NewClassifier compiles both pattern lists case-insensitively.
// An invalid pattern is a configuration error and fails construction.
func NewClassifier(rejectPatterns, intentPatterns []string) (*Classifier, error) {
	reject, err := compileAll(rejectPatterns)
	if err != nil {
		return nil, fmt.Errorf("reject list: %w", err)
	}
	intent, err := compileAll(intentPatterns)
	if err != nil {
		return nil, fmt.Errorf("intent list: %w", err)
	}
	return &Classifier{reject: reject, intent: intent}, nil
}

// Classify runs both stages in order and returns the verdict.
func (c *Classifier) Classify(text string) Verdict {
	for _, p := range c.reject {
		if p.MatchString(text) {
			return Rejected
		}
	}
	if len(c.intent) == 0 {
		return Accepted
	}
	for _, p := range c.intent {
		if p.MatchString(text) {
			return Accepted
		}
	}
	return NoIntent
}

// Relevant reports whether the message should proceed to extraction.
func (c *Classifier) Relevant(text string) bool {
	return c.Classify(text) == Accepted
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
