package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/vigil/internal/result"
)

// EvaluationRecord is everything persisted for one successful evaluation.
type EvaluationRecord struct {
	SessionID     uuid.UUID
	Result        *result.EvaluationResult
	RubricVersion string
	Provider      string
	Model         string
	KeptTurns     int
	OriginalTurns int
	BudgetLimit   int
	BudgetUnit    string
	Attempts      int
}

// EvaluationRow is a stored evaluation as read back for the API.
type EvaluationRow struct {
	ID                  uuid.UUID       `json:"id"`
	SessionID           uuid.UUID       `json:"session_id"`
	ContentCoverage     int             `json:"content_coverage"`
	FacilitationQuality int             `json:"facilitation_quality"`
	ProtocolSafety      int             `json:"protocol_safety"`
	Summary             string          `json:"summary"`
	IsSafe              bool            `json:"is_safe"`
	RiskQuote           *string         `json:"risk_quote"`
	RubricVersion       string          `json:"rubric_version"`
	Provider            string          `json:"provider"`
	Model               string          `json:"model"`
	KeptTurns           int             `json:"kept_turns"`
	OriginalTurns       int             `json:"original_turns"`
	Audit               json.RawMessage `json:"audit"`
	ReviewStatus        string          `json:"review_status"`
	CreatedAt           time.Time       `json:"created_at"`
}

// WriteEvaluation stores the evaluation and marks its session evaluated in a
// single transaction. The full canonical result is kept as the audit blob.
func (s *Store) WriteEvaluation(ctx context.Context, rec EvaluationRecord) (uuid.UUID, error) {
	if rec.Result == nil {
		return uuid.Nil, errors.New("write evaluation: nil result")
	}
	audit, err := json.Marshal(rec.Result)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal audit: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	m := rec.Result.Metrics
	_, err = tx.Exec(ctx, `
		INSERT INTO evaluations (id, session_id, content_coverage, facilitation_quality, protocol_safety,
			summary, is_safe, risk_quote, rubric_version, provider, model,
			kept_turns, original_turns, budget_limit, budget_unit, attempts, audit, review_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 'pending', now())`,
		id, rec.SessionID, m.ContentCoverage.Score, m.FacilitationQuality.Score, m.ProtocolSafety.Score,
		rec.Result.Summary, rec.Result.IsSafe(), rec.Result.Risk.Quote, rec.RubricVersion, rec.Provider, rec.Model,
		rec.KeptTurns, rec.OriginalTurns, rec.BudgetLimit, rec.BudgetUnit, rec.Attempts, audit,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert evaluation: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET status = 'evaluated', evaluated_at = now()
		WHERE id = $1`,
		rec.SessionID,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mark session evaluated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, fmt.Errorf("mark session %s evaluated: %w", rec.SessionID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetEvaluation loads a stored evaluation by ID.
func (s *Store) GetEvaluation(ctx context.Context, id uuid.UUID) (*EvaluationRow, error) {
	var row EvaluationRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, content_coverage, facilitation_quality, protocol_safety,
			summary, is_safe, risk_quote, rubric_version, provider, model,
			kept_turns, original_turns, audit, review_status, created_at
		FROM evaluations WHERE id = $1`, id,
	).Scan(
		&row.ID, &row.SessionID, &row.ContentCoverage, &row.FacilitationQuality, &row.ProtocolSafety,
		&row.Summary, &row.IsSafe, &row.RiskQuote, &row.RubricVersion, &row.Provider, &row.Model,
		&row.KeptTurns, &row.OriginalTurns, &row.Audit, &row.ReviewStatus, &row.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	return &row, nil
}
