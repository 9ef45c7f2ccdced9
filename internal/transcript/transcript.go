package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Turn is one speaker's contiguous utterance. Index is the original position
// in the transcript and survives pruning so gaps can be reconstructed.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Index   int    `json:"index"`
}

// Session is a validated transcript. Turns are non-empty and indexed 0..N-1.
type Session struct {
	Topic           string `json:"session_topic"`
	DurationMinutes int    `json:"duration_minutes"`
	Turns           []Turn `json:"transcript"`
}

// FieldError is a single violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ValidationError rejects a malformed transcript. It is never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Problem
	}
	return "invalid transcript: " + strings.Join(parts, "; ")
}

// Parse decodes raw JSON and validates it.
func Parse(data []byte) (*Session, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: "$", Problem: "not valid JSON: " + err.Error()}}}
	}
	if dec.More() {
		return nil, &ValidationError{Fields: []FieldError{{Field: "$", Problem: "trailing data after JSON value"}}}
	}
	return Validate(v)
}

// Validate checks an already-decoded JSON value and returns either a fully
// typed Session or a *ValidationError listing every violated field. No
// partial repair is attempted.
func Validate(v any) (*Session, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Fields: []FieldError{{Field: "$", Problem: "must be an object"}}}
	}

	var errs []FieldError
	fail := func(field, problem string) {
		errs = append(errs, FieldError{Field: field, Problem: problem})
	}

	topic, ok := obj["session_topic"].(string)
	switch {
	case !ok:
		fail("session_topic", requiredType(obj, "session_topic", "string"))
	case strings.TrimSpace(topic) == "":
		fail("session_topic", "must not be empty")
	}

	duration, derr := positiveNumber(obj["duration_minutes"])
	if derr != "" {
		if _, present := obj["duration_minutes"]; !present {
			derr = "is required"
		}
		fail("duration_minutes", derr)
	}

	raw, ok := obj["transcript"].([]any)
	switch {
	case !ok:
		fail("transcript", requiredType(obj, "transcript", "array"))
	case len(raw) == 0:
		fail("transcript", "must not be empty")
	}

	turns := make([]Turn, 0, len(raw))
	for i, item := range raw {
		field := fmt.Sprintf("transcript[%d]", i)
		m, ok := item.(map[string]any)
		if !ok {
			fail(field, "must be an object")
			continue
		}
		speaker, ok := m["speaker"].(string)
		switch {
		case !ok:
			fail(field+".speaker", requiredType(m, "speaker", "string"))
		case strings.TrimSpace(speaker) == "":
			fail(field+".speaker", "must not be empty")
		}
		text, ok := m["text"].(string)
		if !ok {
			fail(field+".text", requiredType(m, "text", "string"))
		}
		turns = append(turns, Turn{Speaker: speaker, Text: text, Index: i})
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return &Session{
		Topic:           topic,
		DurationMinutes: int(math.Ceil(duration)),
		Turns:           turns,
	}, nil
}

// Size is the combined length of every turn text in runes.
func (s *Session) Size() int {
	n := 0
	for _, t := range s.Turns {
		n += len([]rune(t.Text))
	}
	return n
}

func requiredType(obj map[string]any, key, typ string) string {
	if _, ok := obj[key]; !ok {
		return "is required"
	}
	return "must be a " + typ
}

// positiveNumber accepts json.Number (from Parse) and float64 (from a plain
// json.Unmarshal into any).
func positiveNumber(v any) (float64, string) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, "must be a number"
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	default:
		return 0, "must be a number"
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, "must be positive"
	}
	return f, ""
}
