package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetSessionTranscript returns the raw transcript document recorded by the
// ingestion service, in the inbound shape
// {session_topic, duration_minutes, transcript: [{speaker, text}]}.
func (s *Store) GetSessionTranscript(ctx context.Context, sessionID uuid.UUID) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM sessions WHERE id = $1`, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session transcript: %w", err)
	}
	return payload, nil
}
