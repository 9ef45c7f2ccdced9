package prompt

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/vigil/internal/pruner"
)

// Prompt is one evaluator request.
type Prompt struct {
	RubricVersion string
	System        string
	User          string
}

// Build renders the rubric and the pruned transcript. It is a pure function
// of its inputs: identical input produces byte-identical output.
func Build(rubricVersion string, ps *pruner.PrunedSession) (Prompt, error) {
	r, err := Lookup(rubricVersion)
	if err != nil {
		return Prompt{}, err
	}

	var sb strings.Builder
	sb.WriteString("Evaluate this session.\n\n")
	fmt.Fprintf(&sb, "Topic: %s\n", ps.Topic)
	fmt.Fprintf(&sb, "Duration: %d minutes\n", ps.DurationMinutes)
	fmt.Fprintf(&sb, "Turns shown: %d of %d\n", ps.KeptTurnCount, ps.OriginalTurnCount)
	sb.WriteString("\nTranscript:\n---\n")
	sb.WriteString(RenderTranscript(ps))
	sb.WriteString("---\n\nRespond with valid JSON matching this schema:\n")
	sb.WriteString(r.Schema)
	sb.WriteString("\n")

	return Prompt{
		RubricVersion: r.Version,
		System:        r.System,
		User:          sb.String(),
	}, nil
}

// RenderTranscript flattens the final sequence, one line per turn or gap.
func RenderTranscript(ps *pruner.PrunedSession) string {
	var sb strings.Builder
	for _, seg := range ps.FinalSequence {
		if seg.Gap != nil {
			fmt.Fprintf(&sb, "[%d turn(s) omitted]\n", seg.Gap.OmittedCount)
			continue
		}
		fmt.Fprintf(&sb, "[%d] %s: %s\n", seg.Turn.Index, seg.Turn.Speaker, oneLine(seg.Turn.Text))
	}
	return sb.String()
}

// oneLine keeps multi-line utterances from being read as separate turns.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
