// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails protects the persistent memory path.
//
// Two pieces run around the memory writer:
//   - Classifier: decides whether an operator message is durable
//     feedback that should be persisted to memory.
//   - Scrubber: masks secrets and obvious PII before the text is
//     appended, so memory files never accumulate credentials.
//
// The classifier is swappable at the runtime boundary; the regex
// implementation here is the default.
package guardrails

import (
	"context"
	"regexp"
)

// FeedbackClassifier decides whether a message states a durable
// preference or correction worth persisting.
type FeedbackClassifier interface {
	// Classify reports whether message is memory-worthy feedback.
	Classify(ctx context.Context, message string) bool
}

// FeedbackFunc adapts a function to the FeedbackClassifier interface.
type FeedbackFunc func(ctx context.Context, message string) bool

// Classify implements FeedbackClassifier.
func (f FeedbackFunc) Classify(ctx context.Context, message string) bool {
	return f(ctx, message)
}

// Default feedback cues. Conservative: each needs an explicit
// durable-preference phrasing, not a bare topic mention.
var defaultFeedbackPatterns = []string{
	`(?i)\bremember\b`,
	`(?i)\balways\b`,
	`(?i)\bnever\b`,
	`(?i)\bi prefer\b`,
	`(?i)\bmy preference\b`,
	`(?i)\bfrom now on\b`,
	`(?i)\bgoing forward\b`,
	`(?i)\bin the future\b`,
	`(?i)\bdon'?t\b.*\bagain\b`,
}

// RegexClassifier is the default pattern-based feedback classifier.
type RegexClassifier struct {
	patterns []*regexp.Regexp
}

// NewRegexClassifier builds the default classifier, optionally extended
// with additional patterns. Invalid extra patterns are skipped.
func NewRegexClassifier(extra ...string) *RegexClassifier {
	c := &RegexClassifier{}
	for _, p := range defaultFeedbackPatterns {
		c.patterns = append(c.patterns, regexp.MustCompile(p))
	}
	for _, p := range extra {
		if re, err := regexp.Compile(p); err == nil {
			c.patterns = append(c.patterns, re)
		}
	}
	return c
}

// Classify implements FeedbackClassifier.
func (c *RegexClassifier) Classify(_ context.Context, message string) bool {
	if message == "" {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
