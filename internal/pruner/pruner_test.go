package pruner

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/vigil/internal/relevance"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// fixture builds a session whose turns all have the given text length, with
// the listed relevances and must-keep flags.
func fixture(length int, rel []float64, mustKeep map[int]bool) (*transcript.Session, []relevance.ScoredTurn) {
	s := &transcript.Session{Topic: "t", DurationMinutes: 30}
	scored := make([]relevance.ScoredTurn, len(rel))
	for i, r := range rel {
		turn := transcript.Turn{Speaker: "P1", Text: strings.Repeat("a", length), Index: i}
		s.Turns = append(s.Turns, turn)
		scored[i] = relevance.ScoredTurn{Turn: turn, Relevance: r, MustKeep: mustKeep[i]}
	}
	return s, scored
}

func keptIndices(ps *PrunedSession) []int {
	var out []int
	for _, seg := range ps.FinalSequence {
		if seg.Turn != nil {
			out = append(out, seg.Turn.Index)
		}
	}
	return out
}

func assertInvariants(t *testing.T, ps *PrunedSession, scored []relevance.ScoredTurn) {
	t.Helper()
	omitted := 0
	expected := 0
	prevGap := false
	for _, seg := range ps.FinalSequence {
		if (seg.Turn == nil) == (seg.Gap == nil) {
			t.Fatalf("segment must be exactly one of turn or gap: %+v", seg)
		}
		if seg.Gap != nil {
			if prevGap {
				t.Fatal("adjacent gap markers")
			}
			if seg.Gap.OmittedCount < 1 {
				t.Fatalf("gap with omitted count %d", seg.Gap.OmittedCount)
			}
			if seg.Gap.AfterIndex != expected-1 {
				t.Fatalf("gap after_index %d, expected %d", seg.Gap.AfterIndex, expected-1)
			}
			omitted += seg.Gap.OmittedCount
			expected += seg.Gap.OmittedCount
			prevGap = true
			continue
		}
		if seg.Turn.Index != expected {
			t.Fatalf("turn index %d out of order, expected %d", seg.Turn.Index, expected)
		}
		expected++
		prevGap = false
	}
	if expected != len(scored) {
		t.Fatalf("sequence covers %d turns, want %d", expected, len(scored))
	}
	if ps.KeptTurnCount+omitted != ps.OriginalTurnCount {
		t.Fatalf("kept %d + omitted %d != original %d", ps.KeptTurnCount, omitted, ps.OriginalTurnCount)
	}
	if ps.Used > ps.Budget.Limit {
		t.Fatalf("used %d exceeds budget %d", ps.Used, ps.Budget.Limit)
	}
	kept := make(map[int]bool)
	for _, idx := range keptIndices(ps) {
		kept[idx] = true
	}
	for _, st := range scored {
		if st.MustKeep && !kept[st.Index] {
			t.Fatalf("must-keep turn %d was dropped", st.Index)
		}
	}
}

func TestPrune_NoOpWhenBudgetCoversTranscript(t *testing.T) {
	s, scored := fixture(10, []float64{1, 0.1, 2, 0.1}, nil)
	ps, err := Prune(s, scored, Budget{Limit: 40, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps.Gaps()) != 0 {
		t.Errorf("expected zero gaps, got %+v", ps.Gaps())
	}
	if ps.KeptTurnCount != 4 || ps.Used != 40 {
		t.Errorf("kept=%d used=%d", ps.KeptTurnCount, ps.Used)
	}
	assertInvariants(t, ps, scored)
}

func TestPrune_CrisisScenario(t *testing.T) {
	// Ten equal-length turns, crisis at the end, room for four turns.
	rel := []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 3.1}
	s, scored := fixture(20, rel, map[int]bool{9: true})

	ps, err := Prune(s, scored, Budget{Limit: 80, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, ps, scored)

	got := keptIndices(ps)
	want := []int{0, 1, 2, 9}
	if len(got) != len(want) {
		t.Fatalf("kept %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kept %v, want %v", got, want)
		}
	}
	gaps := ps.Gaps()
	if len(gaps) != 1 || gaps[0].OmittedCount != 6 || gaps[0].AfterIndex != 2 {
		t.Errorf("expected one gap of 6 after turn 2, got %+v", gaps)
	}
}

func TestPrune_PrefersRelevance(t *testing.T) {
	s, scored := fixture(10, []float64{0.1, 5, 0.1, 4, 0.1, 3}, nil)
	ps, err := Prune(s, scored, Budget{Limit: 30, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, ps, scored)
	got := keptIndices(ps)
	if len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Errorf("kept %v, want [1 3 5]", got)
	}
	if len(ps.Gaps()) != 3 {
		t.Errorf("expected 3 gaps, got %+v", ps.Gaps())
	}
}

func TestPrune_TieBreaksToEarlierTurn(t *testing.T) {
	s, scored := fixture(10, []float64{1, 1, 1, 1}, nil)
	for run := 0; run < 5; run++ {
		ps, err := Prune(s, scored, Budget{Limit: 20, Unit: UnitChars})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := keptIndices(ps)
		if len(got) != 2 || got[0] != 0 || got[1] != 1 {
			t.Fatalf("run %d: kept %v, want [0 1]", run, got)
		}
	}
}

func TestPrune_KnapsackBeatsGreedy(t *testing.T) {
	s := &transcript.Session{Topic: "t", DurationMinutes: 10}
	texts := []string{strings.Repeat("a", 60), strings.Repeat("b", 50), strings.Repeat("c", 50)}
	rels := []float64{6, 5, 5}
	var scored []relevance.ScoredTurn
	for i, txt := range texts {
		turn := transcript.Turn{Speaker: "P", Text: txt, Index: i}
		s.Turns = append(s.Turns, turn)
		scored = append(scored, relevance.ScoredTurn{Turn: turn, Relevance: rels[i]})
	}
	ps, err := Prune(s, scored, Budget{Limit: 100, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := keptIndices(ps)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("kept %v, want [1 2] (value 10 beats greedy 6)", got)
	}
}

func TestPrune_BudgetExceeded(t *testing.T) {
	s, scored := fixture(50, []float64{3, 0.1, 3}, map[int]bool{0: true, 2: true})
	_, err := Prune(s, scored, Budget{Limit: 99, Unit: UnitChars})

	var berr *BudgetExceededError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BudgetExceededError, got %T: %v", err, err)
	}
	if berr.Required != 100 || berr.Limit != 99 {
		t.Errorf("required=%d limit=%d", berr.Required, berr.Limit)
	}
	if len(berr.PinnedTurns) != 2 || berr.PinnedTurns[0] != 0 || berr.PinnedTurns[1] != 2 {
		t.Errorf("pinned turns = %v", berr.PinnedTurns)
	}
}

func TestPrune_SingleTurnIsPinned(t *testing.T) {
	s, scored := fixture(10, []float64{0.1}, nil)

	ps, err := Prune(s, scored, Budget{Limit: 10, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.KeptTurnCount != 1 {
		t.Errorf("expected the only turn to be kept")
	}

	_, err = Prune(s, scored, Budget{Limit: 5, Unit: UnitChars})
	var berr *BudgetExceededError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BudgetExceededError, got %v", err)
	}
}

func TestPrune_GapAtStart(t *testing.T) {
	s, scored := fixture(10, []float64{0.1, 0.1, 5}, nil)
	ps, err := Prune(s, scored, Budget{Limit: 10, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, ps, scored)
	gaps := ps.Gaps()
	if len(gaps) != 1 || gaps[0].AfterIndex != -1 || gaps[0].OmittedCount != 2 {
		t.Errorf("expected leading gap of 2, got %+v", gaps)
	}
}

func TestPrune_KeepsZeroRelevanceTurnBetweenKeptTurns(t *testing.T) {
	s, scored := fixture(10, []float64{1, 0, 1, 0, 0}, nil)
	ps, err := Prune(s, scored, Budget{Limit: 30, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, ps, scored)
	got := keptIndices(ps)
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("kept %v, want [0 1 2]", got)
	}
}

func TestPrune_TokenBudget(t *testing.T) {
	s, scored := fixture(9, []float64{1, 1, 1}, nil) // 3 tokens each
	ps, err := Prune(s, scored, Budget{Limit: 6, Unit: UnitTokens})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.KeptTurnCount != 2 || ps.Used != 6 {
		t.Errorf("kept=%d used=%d", ps.KeptTurnCount, ps.Used)
	}
}

func TestPrune_LargeBudgetIsQuantized(t *testing.T) {
	rel := make([]float64, 400)
	must := map[int]bool{}
	for i := range rel {
		rel[i] = float64(i%7) + 0.1
		if i%97 == 0 {
			must[i] = true
		}
	}
	s, scored := fixture(300, rel, must)
	ps, err := Prune(s, scored, Budget{Limit: 60_000, Unit: UnitChars})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertInvariants(t, ps, scored)
}

func TestPrune_RandomizedInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for iter := 0; iter < 200; iter++ {
		n := 1 + r.IntN(30)
		s := &transcript.Session{Topic: "t", DurationMinutes: 5}
		scored := make([]relevance.ScoredTurn, n)
		pinnedCost := 0
		total := 0
		for i := 0; i < n; i++ {
			turn := transcript.Turn{Speaker: "P", Text: strings.Repeat("x", r.IntN(40)), Index: i}
			s.Turns = append(s.Turns, turn)
			st := relevance.ScoredTurn{Turn: turn, Relevance: float64(r.IntN(50)) / 10, MustKeep: r.IntN(8) == 0}
			scored[i] = st
			total += len(turn.Text)
			if st.MustKeep || n == 1 {
				pinnedCost += len(turn.Text)
			}
		}
		limit := r.IntN(total + 20)

		ps, err := Prune(s, scored, Budget{Limit: limit, Unit: UnitChars})
		if total > limit && pinnedCost > limit {
			var berr *BudgetExceededError
			if !errors.As(err, &berr) {
				t.Fatalf("iter %d: expected BudgetExceededError, got %v", iter, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("iter %d: unexpected error: %v", iter, err)
		}
		assertInvariants(t, ps, scored)
		if total <= limit && len(ps.Gaps()) != 0 {
			t.Fatalf("iter %d: expected no-op prune", iter)
		}
	}
}

func TestPrune_MismatchedInput(t *testing.T) {
	s, scored := fixture(10, []float64{1, 1}, nil)
	if _, err := Prune(s, scored[:1], Budget{Limit: 5, Unit: UnitChars}); err == nil {
		t.Error("expected error for mismatched scored turns")
	}
	if _, err := Prune(s, scored, Budget{Limit: -1, Unit: UnitChars}); err == nil {
		t.Error("expected error for negative budget")
	}
}

func TestParseUnit(t *testing.T) {
	if u, err := ParseUnit("tokens"); err != nil || u != UnitTokens {
		t.Errorf("ParseUnit(tokens) = %v, %v", u, err)
	}
	if _, err := ParseUnit("words"); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestFillSingleGaps(t *testing.T) {
	keep := []bool{true, false, true, false, false, true, false, true}
	costs := []int{1, 2, 1, 1, 1, 1, 5, 1}
	fillSingleGaps(keep, costs, 9)

	want := []bool{true, true, true, false, false, true, false, true}
	for i := range want {
		if keep[i] != want[i] {
			t.Fatalf("keep = %v, want %v", keep, want)
		}
	}
}
