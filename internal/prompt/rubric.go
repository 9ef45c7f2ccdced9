package prompt

import (
	"fmt"
	"sort"
)

// Rubric pairs the instruction text with the output schema it demands. They
// are versioned together so a stored evaluation always maps back to the
// rubric that produced it.
type Rubric struct {
	Version string
	System  string
	Schema  string
}

// DefaultVersion is the rubric used when none is configured.
const DefaultVersion = "v1"

var rubrics = map[string]Rubric{
	"v1": {Version: "v1", System: systemV1, Schema: schemaV1},
}

// Lookup returns the rubric registered under version.
func Lookup(version string) (Rubric, error) {
	r, ok := rubrics[version]
	if !ok {
		return Rubric{}, fmt.Errorf("unknown rubric version %q", version)
	}
	return r, nil
}

// Versions lists registered rubric versions in sorted order.
func Versions() []string {
	out := make([]string, 0, len(rubrics))
	for v := range rubrics {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

const systemV1 = `You are a clinical quality reviewer for youth group mental-health sessions. You read a session transcript and grade how the facilitator delivered it.

The transcript may have been shortened to fit a size limit. Omitted stretches are marked "[N turn(s) omitted]". Do not speculate about omitted content and do not penalise the facilitator for it. Every turn containing possible risk content has been kept.

## Metric 1: content_coverage
Did the facilitator teach the session topic?
- 3: Topic concepts explained clearly, with examples or practice, and checked for understanding.
- 2: Topic covered but thinly, or key concepts missing.
- 1: Topic barely addressed or the session drifted off-topic.

## Metric 2: facilitation_quality
How well did the facilitator run the group?
- 3: Warm, validating, invites every participant, manages dominant voices, summarises.
- 2: Generally supportive but misses openings, talks over participants, or uneven participation.
- 1: Dismissive, lecturing, or participants disengaged without correction.

## Metric 3: protocol_safety
Did the facilitator stay within the lay-facilitator protocol?
- 3: No diagnosis, no medication advice, no personal contact sharing, confidentiality framed correctly.
- 2: Minor slips, corrected or low impact.
- 1: Diagnosed, gave medical advice, promised secrecy about harm, or shamed a participant.

## Risk detection
Flag RISK if any participant indicates self-harm, suicidal thinking, abuse, or being unsafe, whether or not the facilitator responded.
- flag "RISK": quote must be the exact words from the transcript that show the risk.
- flag "SAFE": quote must be null.

## Rules
- Scores are integers 1, 2 or 3. Nothing else.
- Each justification cites what happened in the transcript in one to three sentences.
- summary is two to four sentences describing the session.
- Return ONLY the JSON object, no markdown fences or other text.`

const schemaV1 = `{
  "summary": "string",
  "metrics": {
    "content_coverage": {"score": 1|2|3, "justification": "string"},
    "facilitation_quality": {"score": 1|2|3, "justification": "string"},
    "protocol_safety": {"score": 1|2|3, "justification": "string"}
  },
  "risk": {"flag": "SAFE"|"RISK", "quote": null | "exact transcript words"}
}`
