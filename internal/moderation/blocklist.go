// Package moderation screens outgoing message text against a fixed
// block-list and escalates repeat violations into account suspensions.
// Matching is pure case-insensitive substring containment: no stemming, no
// tokenization, no leetspeak normalization. "skill" contains "kill" and is
// blocked; that is the contract.
package moderation

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// DefaultTerms is the block-list shipped when no override is configured.
var DefaultTerms = []string{"violence", "terror", "kill"}

// Blocklist matches message text against a set of blocked terms and phrases
// using an Aho-Corasick automaton built once at construction. Scan is safe
// for concurrent use.
type Blocklist struct {
	matcher *goahocorasick.Machine
	terms   []string
}

// NewBlocklist builds a Blocklist from the given terms. Terms are lowercased;
// empty and whitespace-only entries are dropped. An empty effective list is
// an error: a relay with no block-list should not construct one.
func NewBlocklist(terms []string) (*Blocklist, error) {
	seen := make(map[string]bool, len(terms))
	var kept []string
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("moderation: empty block-list")
	}

	// The automaton builder requires sorted unique patterns.
	sort.Strings(kept)
	patterns := make([][]rune, len(kept))
	for i, t := range kept {
		patterns[i] = []rune(t)
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("moderation: build matcher: %w", err)
	}
	return &Blocklist{matcher: m, terms: kept}, nil
}

// Scan reports whether text contains any blocked term and returns the first
// matched term. The input is lowercased rune-wise before matching; nothing
// else is altered, preserving substring semantics.
func (b *Blocklist) Scan(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	runes := []rune(text)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}

	hits := b.matcher.MultiPatternSearch(runes, true)
	if len(hits) == 0 {
		return "", false
	}
	return string(hits[0].Word), true
}

// Terms returns the effective lowercased block-list, for startup logging.
func (b *Blocklist) Terms() []string {
	return b.terms
}
