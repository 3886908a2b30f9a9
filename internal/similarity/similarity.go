// Package similarity provides the text-similarity seam used by memory
// retrieval and consolidation. Scores are always in [0,1].
package similarity

import (
	"context"
	"strings"
	"unicode"
)

// Scorer computes how similar two texts are, in [0,1].
type Scorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// Func adapts a plain function to the Scorer interface.
type Func func(ctx context.Context, a, b string) (float64, error)

// Score implements Scorer.
func (f Func) Score(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}

// Lexical scores texts by token overlap (Sørensen–Dice over token sets).
// It needs no model or network and is the default scorer.
type Lexical struct{}

var _ Scorer = (*Lexical)(nil)

// NewLexical creates a lexical scorer.
func NewLexical() *Lexical {
	return &Lexical{}
}

// Score implements Scorer.
func (l *Lexical) Score(_ context.Context, a, b string) (float64, error) {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0, nil
	}

	common := 0
	for tok := range ta {
		if tb[tok] {
			common++
		}
	}

	return clamp01(2 * float64(common) / float64(len(ta)+len(tb))), nil
}

// tokenSet lowercases and splits on non-alphanumeric runes.
func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
