package search

import (
	"strings"
	"time"
	"unicode"
)

// Decomposer splits a compound query into independent sub-queries along its
// conjunctive structure. Implementations must be idempotent: decomposing an
// already-atomic query returns it unchanged as a single-element slice, and
// never produces an empty sub-query.
type Decomposer interface {
	// ShouldDecompose reports whether the query has splittable structure.
	ShouldDecompose(text string) bool

	// Decompose returns the ordered sub-queries (length >= 1). Each
	// sub-query inherits the parent's filters and records the parent text
	// as lineage.
	Decompose(q Query) []Query
}

// ConjunctiveDecomposer recognizes explicit boolean/conjunctive structure:
// "and"/"or" connectives, "&", and comma- or semicolon-separated clause
// lists. Quoted phrases are kept atomic, as are proper-noun spans: a
// lowercase connective flanked by capitalized words ("Procter and Gamble")
// does not split. Deterministic and fast; no model calls.
type ConjunctiveDecomposer struct{}

// NewConjunctiveDecomposer creates the pattern-based decomposer.
func NewConjunctiveDecomposer() *ConjunctiveDecomposer {
	return &ConjunctiveDecomposer{}
}

var _ Decomposer = (*ConjunctiveDecomposer)(nil)

// ShouldDecompose reports whether decomposition would yield more than one
// sub-query.
func (d *ConjunctiveDecomposer) ShouldDecompose(text string) bool {
	return len(d.splitClauses(text)) > 1
}

// Decompose splits q along its conjunctive structure. If no splittable
// structure is found the original query is returned unchanged as a
// single-element slice.
func (d *ConjunctiveDecomposer) Decompose(q Query) []Query {
	parts := d.splitClauses(q.Text)
	if len(parts) <= 1 {
		return []Query{q}
	}

	subs := make([]Query, 0, len(parts))
	for _, p := range parts {
		subs = append(subs, q.WithText(p))
	}
	return subs
}

// splitClauses returns the clause texts of a compound query, or a
// single-element slice containing the trimmed original when the query is
// atomic. Clauses that are empty or carry no content words are dropped; if
// fewer than two survive, the query is atomic.
func (d *ConjunctiveDecomposer) splitClauses(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{trimmed}
	}

	tokens := tokenizeQuoted(trimmed)

	var parts []string
	var current []string
	flush := func() {
		if clause := strings.TrimSpace(strings.Join(current, " ")); clause != "" {
			parts = append(parts, clause)
		}
		current = current[:0]
	}

	for i, tok := range tokens {
		// Comma and semicolon separators arrive attached to the
		// preceding token.
		word, sep := splitTrailingSeparator(tok)

		if isConnective(word) && len(current) > 0 && i+1 < len(tokens) {
			// A lowercase connective inside a proper-noun span is part
			// of the name, not boolean structure. All-caps AND/OR is
			// always an explicit operator.
			if isUpperConnective(word) || !isProperNounContext(tokens, i) {
				flush()
				continue
			}
		}

		if word != "" {
			current = append(current, word)
		}
		if sep {
			flush()
		}
	}
	flush()

	// Drop clauses with no content words; a clause that is only stop-words
	// or only a negation cannot stand as a sub-query.
	kept := parts[:0]
	for _, p := range parts {
		if hasContentWord(p) {
			kept = append(kept, p)
		}
	}

	if len(kept) < 2 {
		return []string{trimmed}
	}
	return kept
}

// DivideDeadline computes one sub-query's share of a round deadline.
// The share is proportional (total/n) but never below floor, so a large
// fan-out cannot starve every sub-query to near-zero time. When the floor
// itself exceeds the total budget, sub-queries share the full round
// deadline concurrently instead.
func DivideDeadline(total time.Duration, n int, floor time.Duration) time.Duration {
	if n <= 1 || total <= 0 {
		return total
	}
	share := total / time.Duration(n)
	if share >= floor {
		return share
	}
	if floor <= total {
		return floor
	}
	return total
}

// tokenizeQuoted splits on whitespace while keeping quoted spans as single
// tokens (quotes included).
func tokenizeQuoted(text string) []string {
	var tokens []string
	var b strings.Builder
	var quote rune

	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}

	for _, r := range text {
		switch {
		case quote != 0:
			b.WriteRune(r)
			if r == quote {
				quote = 0
				flush()
			}
		case r == '"' || r == '\'':
			flush()
			quote = r
			b.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// splitTrailingSeparator strips a trailing clause separator from a token.
func splitTrailingSeparator(tok string) (word string, sep bool) {
	if strings.HasSuffix(tok, ",") || strings.HasSuffix(tok, ";") {
		return strings.TrimRight(tok, ",;"), true
	}
	return tok, false
}

func isConnective(word string) bool {
	switch strings.ToLower(word) {
	case "and", "or", "&":
		return true
	}
	return false
}

func isUpperConnective(word string) bool {
	return word == "AND" || word == "OR"
}

// isProperNounContext reports whether the tokens flanking position i are
// both capitalized words, indicating a proper-noun span.
func isProperNounContext(tokens []string, i int) bool {
	if i == 0 || i+1 >= len(tokens) {
		return false
	}
	return isCapitalized(tokens[i-1]) && isCapitalized(tokens[i+1])
}

func isCapitalized(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

// hasContentWord reports whether the clause contains at least one word that
// is neither a stop-word nor a bare negation. Quoted spans always count.
func hasContentWord(clause string) bool {
	for _, tok := range tokenizeQuoted(clause) {
		if strings.HasPrefix(tok, `"`) || strings.HasPrefix(tok, `'`) {
			return true
		}
		word := strings.ToLower(strings.Trim(tok, ",;.!?"))
		if word == "" || word == "not" || word == "no" || isStopWord(word) {
			continue
		}
		return true
	}
	return false
}

// isStopWord reports common English stop-words that carry no search value.
func isStopWord(word string) bool {
	return stopWords[word]
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"and": true, "but": true, "or": true, "nor": true, "for": true,
	"yet": true, "so": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "by": true, "with": true, "from": true,
	"it": true, "its": true, "this": true, "that": true, "these": true,
	"those": true, "which": true, "what": true, "who": true, "whom": true,
}
