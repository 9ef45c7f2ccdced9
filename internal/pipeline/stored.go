package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/cache"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

// StoredOutcome is a persisted evaluation of a stored session.
type StoredOutcome struct {
	*Outcome
	SessionID    uuid.UUID `json:"session_id"`
	EvaluationID uuid.UUID `json:"evaluation_id"`
}

// EvaluateStored evaluates a session recorded by the ingestion service and
// hands the result to the store. inline, unless blank or null, is used
// instead of loading the transcript. Nothing is written unless every stage succeeds.
func (p *Pipeline) EvaluateStored(ctx context.Context, sessionID uuid.UUID, inline []byte) (*StoredOutcome, error) {
	if p.store == nil {
		return nil, errors.New("pipeline: no store configured")
	}

	var claim *cache.Claim
	if p.claims != nil {
		var err error
		claim, err = p.claims.Claim(ctx, sessionID.String())
		if err != nil {
			if !errors.Is(err, cache.ErrAlreadyClaimed) {
				p.publishFailure(sessionID, err)
			}
			return nil, err
		}
	}

	out, err := p.evaluateStored(ctx, sessionID, inline)
	if err != nil {
		if claim != nil {
			if rerr := p.claims.Release(context.WithoutCancel(ctx), claim); rerr != nil {
				p.logger.Warn("failed to release session claim", "session_id", sessionID, "error", rerr)
			}
		}
		p.publishFailure(sessionID, err)
		return nil, err
	}

	p.publishSuccess(out)
	if !out.IsSafe {
		p.metrics.IncRiskFlagged()
		p.alert(ctx, out)
	}
	return out, nil
}

func (p *Pipeline) evaluateStored(ctx context.Context, sessionID uuid.UUID, inline []byte) (*StoredOutcome, error) {
	raw := inline
	if hermes.IsAbsent(raw) {
		var err error
		raw, err = p.store.GetSessionTranscript(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
	}

	out, err := p.Evaluate(ctx, raw)
	if err != nil {
		return nil, err
	}

	id, err := p.store.WriteEvaluation(ctx, store.EvaluationRecord{
		SessionID:     sessionID,
		Result:        out.Result,
		RubricVersion: out.RubricVersion,
		Provider:      out.Provider,
		Model:         out.Model,
		KeptTurns:     out.Pruned.KeptTurnCount,
		OriginalTurns: out.Pruned.OriginalTurnCount,
		BudgetLimit:   out.Pruned.Budget.Limit,
		BudgetUnit:    string(out.Pruned.Budget.Unit),
		Attempts:      out.Attempts,
	})
	if err != nil {
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}

	p.logger.Info("session evaluated",
		"session_id", sessionID,
		"evaluation_id", id,
		"is_safe", out.IsSafe,
		"content_coverage", out.Result.Metrics.ContentCoverage.Score,
		"facilitation_quality", out.Result.Metrics.FacilitationQuality.Score,
		"protocol_safety", out.Result.Metrics.ProtocolSafety.Score,
		"attempts", out.Attempts,
	)
	return &StoredOutcome{Outcome: out, SessionID: sessionID, EvaluationID: id}, nil
}

func (p *Pipeline) publishSuccess(out *StoredOutcome) {
	if p.publisher == nil {
		return
	}
	m := out.Result.Metrics
	evt := hermes.EvaluationCompleted{
		SessionID:           out.SessionID.String(),
		EvaluationID:        out.EvaluationID.String(),
		ContentCoverage:     m.ContentCoverage.Score,
		FacilitationQuality: m.FacilitationQuality.Score,
		ProtocolSafety:      m.ProtocolSafety.Score,
		IsSafe:              out.IsSafe,
		RubricVersion:       out.RubricVersion,
		Provider:            out.Provider,
		KeptTurns:           out.Pruned.KeptTurnCount,
		OriginalTurns:       out.Pruned.OriginalTurnCount,
		CompletedAt:         time.Now().UTC(),
	}
	if err := p.publisher.Publish(hermes.SubjectEvaluationCompleted, evt); err != nil {
		p.logger.Error("failed to publish evaluation completed", "session_id", out.SessionID, "error", err)
	}

	if out.IsSafe || out.Result.Risk.Quote == nil {
		return
	}
	if err := p.publisher.Publish(hermes.SubjectRiskFlagged, hermes.RiskFlagged{
		SessionID:    out.SessionID.String(),
		EvaluationID: out.EvaluationID.String(),
		Quote:        *out.Result.Risk.Quote,
	}); err != nil {
		p.logger.Error("failed to publish risk flagged", "session_id", out.SessionID, "error", err)
	}
}

func (p *Pipeline) publishFailure(sessionID uuid.UUID, err error) {
	kind := Kind(err)
	p.logger.Error("session evaluation failed",
		"session_id", sessionID,
		"error_kind", kind,
		"error", err,
	)
	if p.publisher == nil {
		return
	}
	if perr := p.publisher.Publish(hermes.SubjectEvaluationFailed, hermes.EvaluationFailed{
		SessionID: sessionID.String(),
		ErrorKind: kind,
		Error:     err.Error(),
		Retryable: Retryable(err),
	}); perr != nil {
		p.logger.Error("failed to publish evaluation failed", "session_id", sessionID, "error", perr)
	}
}

func (p *Pipeline) alert(ctx context.Context, out *StoredOutcome) {
	if p.alerts == nil || out.Result.Risk.Quote == nil {
		return
	}
	_, err := p.alerts.PostRiskAlert(context.WithoutCancel(ctx), slack.RiskAlert{
		SessionID:      out.SessionID.String(),
		EvaluationID:   out.EvaluationID.String(),
		Topic:          out.Pruned.Topic,
		Quote:          *out.Result.Risk.Quote,
		ProtocolSafety: out.Result.Metrics.ProtocolSafety.Score,
		Summary:        out.Result.Summary,
	})
	if err != nil {
		p.logger.Error("risk alert failed", "session_id", out.SessionID, "error", err)
	}
}

// HandleTranscriptStored is the NATS handler for swarm.sessions.transcript.stored.
func (p *Pipeline) HandleTranscriptStored(evt hermes.TranscriptStoredEvent) {
	sessionID, err := uuid.Parse(evt.SessionID)
	if err != nil {
		p.logger.Error("invalid session id", "session_id", evt.SessionID, "error", err)
		return
	}

	inline := !hermes.IsAbsent(evt.Transcript)
	p.logger.Info("processing transcript", "session_id", sessionID, "inline", inline)

	_, err = p.EvaluateStored(context.Background(), sessionID, evt.Transcript)
	if errors.Is(err, cache.ErrAlreadyClaimed) {
		p.logger.Info("session already claimed, skipping", "session_id", sessionID)
	}
}
