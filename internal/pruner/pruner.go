package pruner

import (
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/vigil/internal/relevance"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Unit is what a budget counts.
type Unit string

const (
	UnitChars  Unit = "chars"
	UnitTokens Unit = "tokens"
)

// charsPerToken is the estimate used when the budget is in tokens.
const charsPerToken = 4

// maxTableCells bounds the knapsack table. Larger problems are quantized.
const maxTableCells = 1 << 21

// valueScale turns float relevance into integers so ties compare exactly.
const valueScale = 1000

// Budget is the caller-supplied size limit for the transcript text.
type Budget struct {
	Limit int  `json:"limit"`
	Unit  Unit `json:"unit"`
}

// Cost is the size of text in the budget's unit.
func (b Budget) Cost(text string) int {
	n := len([]rune(text))
	if b.Unit == UnitTokens {
		return (n + charsPerToken - 1) / charsPerToken
	}
	return n
}

// ParseUnit accepts "chars" or "tokens".
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitChars, UnitTokens:
		return Unit(s), nil
	default:
		return "", fmt.Errorf("unknown budget unit %q", s)
	}
}

// GapMarker stands in for a run of consecutively dropped turns. AfterIndex is
// the original index of the turn preceding the run, or -1 when the run starts
// the transcript.
type GapMarker struct {
	AfterIndex   int `json:"after_index"`
	OmittedCount int `json:"omitted_count"`
}

// Segment is either a kept turn or a gap, never both.
type Segment struct {
	Turn *transcript.Turn `json:"turn,omitempty"`
	Gap  *GapMarker       `json:"gap,omitempty"`
}

func (s Segment) IsGap() bool { return s.Gap != nil }

// PrunedSession is the budget-fitted view of a session handed to the prompt
// builder.
type PrunedSession struct {
	Topic             string    `json:"session_topic"`
	DurationMinutes   int       `json:"duration_minutes"`
	FinalSequence     []Segment `json:"final_sequence"`
	OriginalTurnCount int       `json:"original_turn_count"`
	KeptTurnCount     int       `json:"kept_turn_count"`
	Budget            Budget    `json:"budget"`
	Used              int       `json:"used"`
}

// Gaps returns the gap markers in order.
func (p *PrunedSession) Gaps() []GapMarker {
	var out []GapMarker
	for _, s := range p.FinalSequence {
		if s.Gap != nil {
			out = append(out, *s.Gap)
		}
	}
	return out
}

// OmittedTurnCount is the number of turns hidden behind gap markers.
func (p *PrunedSession) OmittedTurnCount() int {
	return p.OriginalTurnCount - p.KeptTurnCount
}

// BudgetExceededError means the turns that may not be dropped do not fit.
// Risk evidence is never truncated to make room.
type BudgetExceededError struct {
	Required    int
	Limit       int
	Unit        Unit
	PinnedTurns []int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %d pinned turn(s) need %d %s, budget is %d",
		len(e.PinnedTurns), e.Required, e.Unit, e.Limit)
}

// Prune selects the subsequence of turns to keep. Pinned turns (MustKeep, or
// the only turn of a single-turn transcript) are always kept; the rest are
// chosen to maximize total relevance within what remains of the budget, ties
// going to earlier turns. Dropped runs collapse into one GapMarker each.
func Prune(session *transcript.Session, scored []relevance.ScoredTurn, budget Budget) (*PrunedSession, error) {
	if len(scored) != len(session.Turns) {
		return nil, fmt.Errorf("scored %d turns, session has %d", len(scored), len(session.Turns))
	}
	if budget.Limit < 0 {
		return nil, fmt.Errorf("negative budget %d", budget.Limit)
	}

	n := len(scored)
	costs := make([]int, n)
	total := 0
	for i, st := range scored {
		costs[i] = budget.Cost(st.Text)
		total += costs[i]
	}

	keep := make([]bool, n)
	if total <= budget.Limit {
		for i := range keep {
			keep[i] = true
		}
		return build(session, scored, keep, costs, budget), nil
	}

	pinnedCost := 0
	var pinned []int
	for i, st := range scored {
		if st.MustKeep || n == 1 {
			keep[i] = true
			pinned = append(pinned, i)
			pinnedCost += costs[i]
		}
	}
	if pinnedCost > budget.Limit {
		return nil, &BudgetExceededError{
			Required:    pinnedCost,
			Limit:       budget.Limit,
			Unit:        budget.Unit,
			PinnedTurns: pinned,
		}
	}

	var items []item
	for i, st := range scored {
		if keep[i] {
			continue
		}
		items = append(items, item{
			idx:   i,
			cost:  costs[i],
			value: int64(math.Round(st.Relevance * valueScale)),
		})
	}
	for _, idx := range knapsack(items, budget.Limit-pinnedCost) {
		keep[idx] = true
	}

	fillSingleGaps(keep, costs, budget.Limit)
	return build(session, scored, keep, costs, budget), nil
}

type item struct {
	idx   int
	cost  int
	value int64
}

// knapsack solves 0/1 knapsack over items (in index order) and returns the
// chosen indices. Among optimal selections it prefers taking earlier items,
// which makes the output reproducible for identical input.
func knapsack(items []item, capacity int) []int {
	m := len(items)
	if m == 0 || capacity < 0 {
		return nil
	}

	// Quantize when the table would be too large: weights round up and the
	// capacity rounds down, so the chosen set still fits the real budget.
	q := 1
	for capacity/q > 0 && m*(capacity/q+1) > maxTableCells {
		q *= 2
	}
	c := capacity / q
	w := make([]int, m)
	for i, it := range items {
		w[i] = (it.cost + q - 1) / q
	}

	// dp[i*(c+1)+x] is the best value from items[i:] with capacity x.
	width := c + 1
	dp := make([]int64, (m+1)*width)
	for i := m - 1; i >= 0; i-- {
		row, next := dp[i*width:(i+1)*width], dp[(i+1)*width:(i+2)*width]
		for x := 0; x <= c; x++ {
			best := next[x]
			if w[i] <= x {
				if v := items[i].value + next[x-w[i]]; v > best {
					best = v
				}
			}
			row[x] = best
		}
	}

	var chosen []int
	x := c
	for i := 0; i < m; i++ {
		if w[i] > x {
			continue
		}
		next := dp[(i+1)*width:]
		if items[i].value+next[x-w[i]] == dp[i*width+x] {
			chosen = append(chosen, items[i].idx)
			x -= w[i]
		}
	}
	return chosen
}

// fillSingleGaps restores lone dropped turns sitting between two kept turns
// when they still fit, so a gap marker never stands for an arbitrary single
// deletion that the budget could have covered.
func fillSingleGaps(keep []bool, costs []int, limit int) {
	used := 0
	for i, k := range keep {
		if k {
			used += costs[i]
		}
	}
	for i := 1; i < len(keep)-1; i++ {
		if keep[i] || !keep[i-1] || !keep[i+1] {
			continue
		}
		if used+costs[i] <= limit {
			keep[i] = true
			used += costs[i]
		}
	}
}

func build(session *transcript.Session, scored []relevance.ScoredTurn, keep []bool, costs []int, budget Budget) *PrunedSession {
	ps := &PrunedSession{
		Topic:             session.Topic,
		DurationMinutes:   session.DurationMinutes,
		OriginalTurnCount: len(scored),
		Budget:            budget,
	}

	run := 0
	flush := func(next int) {
		if run == 0 {
			return
		}
		ps.FinalSequence = append(ps.FinalSequence, Segment{Gap: &GapMarker{
			AfterIndex:   next - run - 1,
			OmittedCount: run,
		}})
		run = 0
	}
	for i, st := range scored {
		if !keep[i] {
			run++
			continue
		}
		flush(i)
		turn := st.Turn
		ps.FinalSequence = append(ps.FinalSequence, Segment{Turn: &turn})
		ps.KeptTurnCount++
		ps.Used += costs[i]
	}
	flush(len(scored))
	return ps
}
