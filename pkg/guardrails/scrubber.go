// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
)

// Redaction describes a single content modification.
type Redaction struct {
	// Type categorizes the redaction (e.g., "private_key", "email").
	Type string

	// Replacement is what replaced the original. The original itself is
	// never recorded.
	Replacement string

	// Position is the character offset in the scrubbed content.
	Position int
}

// ScrubResult is the outcome of scrubbing a block of text.
type ScrubResult struct {
	// Content is the (potentially modified) text.
	Content string

	// Modified indicates if the content was changed.
	Modified bool

	// Redactions lists what was masked.
	Redactions []Redaction
}

type secretPattern struct {
	kind    string
	pattern *regexp.Regexp
	mask    string
}

// Default secret patterns (conservative, high-precision).
// Order matters - more specific patterns come first.
var defaultSecretPatterns = []struct {
	kind    string
	pattern string
	mask    string
}{
	{"private_key", `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`, "[PRIVATE_KEY]"},
	{"aws_access_key", `\bAKIA[0-9A-Z]{16}\b`, "[AWS_ACCESS_KEY]"},
	{"github_token", `\bgh[pousr]_[A-Za-z0-9]{36,}\b`, "[GITHUB_TOKEN]"},
	{"slack_token", `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`, "[SLACK_TOKEN]"},
	{"jwt", `\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{4,}\b`, "[JWT]"},
	{"bearer_token", `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{8,}=*`, "[BEARER_TOKEN]"},
	{"credential", `(?i)\b(?:api[_-]?key|secret|token|password|passwd)\b\s*[:=]\s*["']?[^\s"']{6,}["']?`, "[CREDENTIAL]"},
	{"email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "[EMAIL]"},
}

// Scrubber masks secrets and obvious PII in text headed for a memory
// file.
type Scrubber struct {
	patterns []secretPattern
}

// ScrubberOption configures a Scrubber.
type ScrubberOption func(*Scrubber)

// WithSecretPattern adds a custom pattern. Invalid patterns are skipped.
func WithSecretPattern(kind, pattern, mask string) ScrubberOption {
	return func(s *Scrubber) {
		if re, err := regexp.Compile(pattern); err == nil {
			s.patterns = append(s.patterns, secretPattern{kind: kind, pattern: re, mask: mask})
		}
	}
}

// NewScrubber creates a Scrubber with the default patterns.
func NewScrubber(opts ...ScrubberOption) *Scrubber {
	s := &Scrubber{}
	for _, p := range defaultSecretPatterns {
		s.patterns = append(s.patterns, secretPattern{
			kind:    p.kind,
			pattern: regexp.MustCompile(p.pattern),
			mask:    p.mask,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrub masks every match in text and reports what was redacted.
func (s *Scrubber) Scrub(ctx context.Context, text string) ScrubResult {
	result := ScrubResult{Content: text}
	if text == "" {
		return result
	}

	for _, p := range s.patterns {
		select {
		case <-ctx.Done():
			return result
		default:
		}

		matches := p.pattern.FindAllStringIndex(result.Content, -1)
		if len(matches) == 0 {
			continue
		}

		// Process matches in reverse order to preserve positions.
		for i := len(matches) - 1; i >= 0; i-- {
			match := matches[i]
			result.Redactions = append(result.Redactions, Redaction{
				Type:        p.kind,
				Replacement: p.mask,
				Position:    match[0],
			})
			result.Content = result.Content[:match[0]] + p.mask + result.Content[match[1]:]
			result.Modified = true
		}
	}

	return result
}
