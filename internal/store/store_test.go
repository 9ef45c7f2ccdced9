package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/MikeSquared-Agency/vigil/internal/result"
)

func riskResult() *result.EvaluationResult {
	quote := "I don't want to be here anymore"
	return &result.EvaluationResult{
		Summary: "Session covered the module; one participant disclosed distress.",
		Metrics: result.Metrics{
			ContentCoverage:     result.Metric{Score: 2, Justification: "Most concepts covered."},
			FacilitationQuality: result.Metric{Score: 3, Justification: "Balanced participation."},
			ProtocolSafety:      result.Metric{Score: 1, Justification: "Disclosure was not escalated."},
		},
		Risk: result.Risk{Flag: result.FlagRisk, Quote: &quote},
	}
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewWithDB(mock), mock
}

func TestWriteEvaluation(t *testing.T) {
	s, mock := newMockStore(t)
	sessionID := uuid.New()
	res := riskResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evaluations").
		WithArgs(pgxmock.AnyArg(), sessionID, 2, 3, 1,
			res.Summary, false, res.Risk.Quote, "v1", "anthropic", "claude-test",
			4, 10, 80, "chars", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE sessions SET status = 'evaluated'").
		WithArgs(sessionID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	id, err := s.WriteEvaluation(context.Background(), EvaluationRecord{
		SessionID:     sessionID,
		Result:        res,
		RubricVersion: "v1",
		Provider:      "anthropic",
		Model:         "claude-test",
		KeptTurns:     4,
		OriginalTurns: 10,
		BudgetLimit:   80,
		BudgetUnit:    "chars",
		Attempts:      3,
	})
	if err != nil {
		t.Fatalf("WriteEvaluation: %v", err)
	}
	if id == uuid.Nil {
		t.Error("expected non-nil evaluation ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteEvaluation_UnknownSessionRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	sessionID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evaluations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE sessions").WithArgs(sessionID).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := s.WriteEvaluation(context.Background(), EvaluationRecord{SessionID: sessionID, Result: riskResult()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteEvaluation_InsertFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO evaluations").WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	if _, err := s.WriteEvaluation(context.Background(), EvaluationRecord{SessionID: uuid.New(), Result: riskResult()}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteEvaluation_NilResult(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.WriteEvaluation(context.Background(), EvaluationRecord{SessionID: uuid.New()}); err == nil {
		t.Fatal("expected error for nil result")
	}
}

func TestGetEvaluation(t *testing.T) {
	s, mock := newMockStore(t)
	id, sessionID := uuid.New(), uuid.New()
	quote := "I don't want to be here anymore"
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cols := []string{"id", "session_id", "content_coverage", "facilitation_quality", "protocol_safety",
		"summary", "is_safe", "risk_quote", "rubric_version", "provider", "model",
		"kept_turns", "original_turns", "audit", "review_status", "created_at"}
	mock.ExpectQuery("FROM evaluations WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			id, sessionID, 2, 3, 1,
			"summary", false, &quote, "v1", "gemini", "gemini-2.5-flash",
			4, 10, []byte(`{"summary":"summary"}`), "pending", created,
		))

	row, err := s.GetEvaluation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEvaluation: %v", err)
	}
	if row.SessionID != sessionID || row.ProtocolSafety != 1 || row.IsSafe {
		t.Errorf("unexpected row: %+v", row)
	}
	if row.RiskQuote == nil || *row.RiskQuote != quote {
		t.Errorf("unexpected quote: %v", row.RiskQuote)
	}
	if row.ReviewStatus != "pending" {
		t.Errorf("review_status = %q", row.ReviewStatus)
	}
}

func TestGetEvaluation_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("FROM evaluations WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	if _, err := s.GetEvaluation(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSessionTranscript(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	payload := []byte(`{"session_topic":"Grief","duration_minutes":45,"transcript":[]}`)

	mock.ExpectQuery("SELECT payload FROM sessions").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := s.GetSessionTranscript(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSessionTranscript: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("got %s", got)
	}

	mock.ExpectQuery("SELECT payload FROM sessions").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	if _, err := s.GetSessionTranscript(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
