package hermes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Subjects consumed and produced by vigil.
const (
	SubjectTranscriptStored    = "swarm.sessions.transcript.stored"
	SubjectEvaluationCompleted = "swarm.vigil.evaluation.completed"
	SubjectRiskFlagged         = "swarm.vigil.risk.flagged"
	SubjectEvaluationFailed    = "swarm.vigil.evaluation.failed"
)

// TranscriptStoredEvent is published by the ingestion service once a raw
// session is persisted. Transcript carries the session document inline when
// the publisher chose to embed it; otherwise it is loaded from the store.
type TranscriptStoredEvent struct {
	SessionID  string          `json:"session_id"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

// DecodeTranscriptStored parses a transcript.stored message. An explicit
// null or blank transcript is treated as absent.
func DecodeTranscriptStored(data []byte) (TranscriptStoredEvent, error) {
	var evt TranscriptStoredEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return TranscriptStoredEvent{}, fmt.Errorf("decode transcript event: %w", err)
	}
	if evt.SessionID == "" {
		return TranscriptStoredEvent{}, errors.New("decode transcript event: missing session_id")
	}
	if IsAbsent(evt.Transcript) {
		evt.Transcript = nil
	}
	return evt, nil
}

// IsAbsent reports whether an optional JSON value was left out, sent blank
// or sent as null.
func IsAbsent(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// EvaluationCompleted is emitted after an evaluation has been persisted.
type EvaluationCompleted struct {
	SessionID           string    `json:"session_id"`
	EvaluationID        string    `json:"evaluation_id"`
	ContentCoverage     int       `json:"content_coverage"`
	FacilitationQuality int       `json:"facilitation_quality"`
	ProtocolSafety      int       `json:"protocol_safety"`
	IsSafe              bool      `json:"is_safe"`
	RubricVersion       string    `json:"rubric_version"`
	Provider            string    `json:"provider"`
	KeptTurns           int       `json:"kept_turns"`
	OriginalTurns       int       `json:"original_turns"`
	CompletedAt         time.Time `json:"completed_at"`
}

// RiskFlagged is emitted in addition to EvaluationCompleted when the
// evaluator flags a safety risk.
type RiskFlagged struct {
	SessionID    string `json:"session_id"`
	EvaluationID string `json:"evaluation_id"`
	Quote        string `json:"quote"`
}

// EvaluationFailed is emitted when a session could not be evaluated.
// Nothing is persisted for the session in that case.
type EvaluationFailed struct {
	SessionID string `json:"session_id"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}
