package pipeline

import (
	"errors"
	"net/http"

	"github.com/MikeSquared-Agency/vigil/internal/cache"
	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
	"github.com/MikeSquared-Agency/vigil/internal/pruner"
	"github.com/MikeSquared-Agency/vigil/internal/result"
	"github.com/MikeSquared-Agency/vigil/internal/store"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Error kinds, stable across releases. They label metrics and failure events.
const (
	KindValidation       = "validation"
	KindBudgetExceeded   = "budget_exceeded"
	KindTransport        = "transport"
	KindEmptyResponse    = "empty_response"
	KindMalformedOutput  = "malformed_output"
	KindSchemaValidation = "schema_validation"
	KindCancelled        = "cancelled"
	KindNotFound         = "not_found"
	KindAlreadyClaimed   = "already_claimed"
	KindInternal         = "internal"
)

// Kind classifies any error returned by the pipeline.
func Kind(err error) string {
	var (
		verr *transcript.ValidationError
		berr *pruner.BudgetExceededError
		terr *evaluator.TransportError
		eerr *evaluator.EmptyResponseError
		merr *evaluator.MalformedOutputError
		serr *result.SchemaValidationError
		cerr *evaluator.CancelledError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cerr):
		return KindCancelled
	case errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &berr):
		return KindBudgetExceeded
	case errors.As(err, &terr):
		return KindTransport
	case errors.As(err, &eerr):
		return KindEmptyResponse
	case errors.As(err, &merr):
		return KindMalformedOutput
	case errors.As(err, &serr):
		return KindSchemaValidation
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, cache.ErrAlreadyClaimed):
		return KindAlreadyClaimed
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error kind to the status the API responds with.
func HTTPStatus(kind string) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindBudgetExceeded:
		return http.StatusUnprocessableEntity
	case KindTransport, KindEmptyResponse, KindMalformedOutput, KindSchemaValidation:
		return http.StatusBadGateway
	case KindCancelled:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyClaimed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same evaluation could succeed if redelivered.
func Retryable(err error) bool {
	var terr *evaluator.TransportError
	if errors.As(err, &terr) {
		return terr.Retryable()
	}
	switch Kind(err) {
	case KindCancelled, KindInternal:
		return true
	}
	return false
}
