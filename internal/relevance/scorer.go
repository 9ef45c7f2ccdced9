package relevance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/vigil/internal/lexicon"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Weights tune the structural part of the score. Lexicon term weights live
// in the lexicon itself.
type Weights struct {
	Base             float64 // floor every turn receives
	FacilitatorBonus float64 // facilitator turn matching a facilitation category
	EdgeBonus        float64 // facilitator turn inside the opening/closing window
	EdgeWindow       int     // window size in turns
}

// Validate rejects negative weights. A negative score would make a turn
// worth less than dropping it.
func (w Weights) Validate() error {
	var errs []error
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"base", w.Base},
		{"facilitator bonus", w.FacilitatorBonus},
		{"edge bonus", w.EdgeBonus},
	} {
		if f.value < 0 || math.IsNaN(f.value) {
			errs = append(errs, fmt.Errorf("%s weight must be non-negative, got %v", f.name, f.value))
		}
	}
	if w.EdgeWindow < 0 {
		errs = append(errs, fmt.Errorf("edge window must be non-negative, got %d", w.EdgeWindow))
	}
	return errors.Join(errs...)
}

// DefaultWeights mirrors the config defaults.
func DefaultWeights() Weights {
	return Weights{Base: 0.1, FacilitatorBonus: 0.5, EdgeBonus: 0.25, EdgeWindow: 2}
}

// ScoredTurn is a Turn plus its relevance. Derived per evaluation and never
// persisted.
type ScoredTurn struct {
	transcript.Turn
	Relevance  float64
	Categories []string // sorted, unique
	MustKeep   bool
}

// Scorer assigns relevance against a shared, read-only lexicon.
type Scorer struct {
	lex             *lexicon.Lexicon
	weights         Weights
	facilitatorRole string
	mustKeep        map[string]bool
	facilitation    map[string]bool
}

func NewScorer(lex *lexicon.Lexicon, facilitatorRole string, w Weights) *Scorer {
	s := &Scorer{
		lex:             lex,
		weights:         w,
		facilitatorRole: strings.TrimSpace(facilitatorRole),
		mustKeep:        make(map[string]bool),
		facilitation:    make(map[string]bool),
	}
	for _, c := range lex.Categories() {
		s.mustKeep[c.Name] = c.MustKeep
		s.facilitation[c.Name] = c.Facilitation
	}
	return s
}

// ScoreTurn scores one turn. total is the transcript length, needed only for
// the closing-window check. There is no cross-turn state.
func (s *Scorer) ScoreTurn(t transcript.Turn, total int) ScoredTurn {
	st := ScoredTurn{Turn: t, Relevance: s.weights.Base}

	matches := s.lex.Match(lexicon.Tokenize(t.Text))
	seen := make(map[string]bool)
	facilitationHit := false
	for _, m := range matches {
		if cat, ok := s.lex.Category(m.Category); ok {
			st.Relevance += cat.Weight * float64(m.Count)
		}
		if s.mustKeep[m.Category] {
			st.MustKeep = true
		}
		if s.facilitation[m.Category] {
			facilitationHit = true
		}
		if !seen[m.Category] {
			seen[m.Category] = true
			st.Categories = append(st.Categories, m.Category)
		}
	}
	sort.Strings(st.Categories)

	if s.isFacilitator(t.Speaker) {
		if facilitationHit {
			st.Relevance += s.weights.FacilitatorBonus
		}
		if w := s.weights.EdgeWindow; w > 0 && (t.Index < w || t.Index >= total-w) {
			st.Relevance += s.weights.EdgeBonus
		}
	}
	return st
}

// Score scores every turn sequentially.
func (s *Scorer) Score(turns []transcript.Turn) []ScoredTurn {
	out := make([]ScoredTurn, len(turns))
	for i, t := range turns {
		out[i] = s.ScoreTurn(t, len(turns))
	}
	return out
}

// ScoreParallel fans turns out over a bounded worker group. The result is
// identical to Score; each worker writes only its own slot.
func (s *Scorer) ScoreParallel(ctx context.Context, turns []transcript.Turn) ([]ScoredTurn, error) {
	out := make([]ScoredTurn, len(turns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range turns {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = s.ScoreTurn(turns[i], len(turns))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scorer) isFacilitator(speaker string) bool {
	return s.facilitatorRole != "" && strings.EqualFold(strings.TrimSpace(speaker), s.facilitatorRole)
}
