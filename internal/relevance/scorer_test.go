package relevance

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/vigil/internal/lexicon"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

const testLexicon = `
categories:
  - name: curriculum
    weight: 1
    terms: [coping, breathing]
  - name: facilitation
    weight: 0.5
    facilitation: true
    terms: ["thank you for sharing"]
  - name: risk
    weight: 3
    must_keep: true
    terms: ["hurt myself"]
`

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	lex, err := lexicon.Parse([]byte(testLexicon))
	if err != nil {
		t.Fatalf("parse lexicon: %v", err)
	}
	return NewScorer(lex, "Facilitator", Weights{Base: 0.1, FacilitatorBonus: 0.5, EdgeBonus: 0.25, EdgeWindow: 1})
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScoreTurn(t *testing.T) {
	s := newTestScorer(t)

	tests := []struct {
		name       string
		turn       transcript.Turn
		total      int
		relevance  float64
		categories []string
		mustKeep   bool
	}{
		{
			name:      "no matches gets base",
			turn:      transcript.Turn{Speaker: "P1", Text: "I had pizza.", Index: 3},
			total:     10,
			relevance: 0.1,
		},
		{
			name:       "curriculum counts occurrences",
			turn:       transcript.Turn{Speaker: "P1", Text: "Coping, coping and breathing.", Index: 3},
			total:      10,
			relevance:  0.1 + 3,
			categories: []string{"curriculum"},
		},
		{
			name:       "risk sets must keep",
			turn:       transcript.Turn{Speaker: "P2", Text: "Sometimes I want to hurt myself.", Index: 4},
			total:      10,
			relevance:  0.1 + 3,
			categories: []string{"risk"},
			mustKeep:   true,
		},
		{
			name:       "facilitator bonus near rubric keywords",
			turn:       transcript.Turn{Speaker: "facilitator", Text: "Thank you for sharing that.", Index: 5},
			total:      10,
			relevance:  0.1 + 0.5 + 0.5,
			categories: []string{"facilitation"},
		},
		{
			name:       "participant gets no facilitator bonus",
			turn:       transcript.Turn{Speaker: "P1", Text: "Thank you for sharing that.", Index: 5},
			total:      10,
			relevance:  0.1 + 0.5,
			categories: []string{"facilitation"},
		},
		{
			name:      "facilitator opening window",
			turn:      transcript.Turn{Speaker: "Facilitator", Text: "Welcome.", Index: 0},
			total:     10,
			relevance: 0.1 + 0.25,
		},
		{
			name:      "facilitator closing window",
			turn:      transcript.Turn{Speaker: "Facilitator", Text: "See you next week.", Index: 9},
			total:     10,
			relevance: 0.1 + 0.25,
		},
		{
			name:       "multiple categories sorted",
			turn:       transcript.Turn{Speaker: "P1", Text: "Breathing helps when I hurt myself", Index: 2},
			total:      10,
			relevance:  0.1 + 1 + 3,
			categories: []string{"curriculum", "risk"},
			mustKeep:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ScoreTurn(tt.turn, tt.total)
			if !almostEqual(got.Relevance, tt.relevance) {
				t.Errorf("relevance = %v, want %v", got.Relevance, tt.relevance)
			}
			if !reflect.DeepEqual(got.Categories, tt.categories) {
				t.Errorf("categories = %v, want %v", got.Categories, tt.categories)
			}
			if got.MustKeep != tt.mustKeep {
				t.Errorf("mustKeep = %v, want %v", got.MustKeep, tt.mustKeep)
			}
			if got.Turn != tt.turn {
				t.Errorf("turn was altered: %+v", got.Turn)
			}
		})
	}
}

func TestScore_OrderIndependent(t *testing.T) {
	s := newTestScorer(t)
	turns := []transcript.Turn{
		{Speaker: "Facilitator", Text: "Welcome, let's talk about coping.", Index: 0},
		{Speaker: "P1", Text: "I want to hurt myself sometimes.", Index: 1},
		{Speaker: "P2", Text: "Breathing helps me.", Index: 2},
	}
	forward := s.Score(turns)

	reversed := []transcript.Turn{turns[2], turns[1], turns[0]}
	backward := s.Score(reversed)
	for i := range forward {
		if !reflect.DeepEqual(forward[i], backward[len(backward)-1-i]) {
			t.Errorf("turn %d scored differently when input order changed", i)
		}
	}
}

func TestScoreParallel_MatchesSequential(t *testing.T) {
	s := newTestScorer(t)
	turns := make([]transcript.Turn, 50)
	texts := []string{"coping", "hurt myself", "thank you for sharing", "nothing", "breathing breathing"}
	for i := range turns {
		speaker := "P1"
		if i%4 == 0 {
			speaker = "Facilitator"
		}
		turns[i] = transcript.Turn{Speaker: speaker, Text: texts[i%len(texts)], Index: i}
	}

	seq := s.Score(turns)
	par, err := s.ScoreParallel(context.Background(), turns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(seq, par) {
		t.Error("parallel scoring differs from sequential scoring")
	}
}

func TestScoreParallel_Cancelled(t *testing.T) {
	s := newTestScorer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ScoreParallel(ctx, []transcript.Turn{{Speaker: "P1", Text: "x"}})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights rejected: %v", err)
	}
	tests := map[string]struct {
		w    Weights
		want string
	}{
		"negative base":        {Weights{Base: -0.1}, "base"},
		"negative facilitator": {Weights{FacilitatorBonus: -1}, "facilitator bonus"},
		"negative edge":        {Weights{EdgeBonus: -0.25}, "edge bonus"},
		"nan base":             {Weights{Base: math.NaN()}, "base"},
		"negative window":      {Weights{EdgeWindow: -1}, "edge window"},
	}
	for name, tt := range tests {
		err := tt.w.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected error mentioning %q, got %v", name, tt.want, err)
		}
	}
}
