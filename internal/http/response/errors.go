package response

import (
	"context"
	"errors"
	"net/http"

	domainagg "github.com/yungbote/threadline-backend/internal/domain/aggregates"
	"github.com/yungbote/threadline-backend/internal/domain/chat"
	"github.com/yungbote/threadline-backend/internal/platform/apierr"
)

// MapError translates domain and store errors into an HTTP status and code.
func MapError(err error) *apierr.Error {
	if err == nil {
		return apierr.New(http.StatusInternalServerError, "internal", errors.New("unknown error"))
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if pe, ok := chat.IsProviderError(err); ok {
		if pe.Transient() {
			return apierr.NewRetryable(http.StatusServiceUnavailable, "provider_unavailable", err)
		}
		return apierr.New(http.StatusBadGateway, "provider_failed", err)
	}

	switch {
	case errors.Is(err, chat.ErrThreadNotFound):
		return apierr.New(http.StatusNotFound, "thread_not_found", err)
	case errors.Is(err, chat.ErrNotFound):
		return apierr.New(http.StatusNotFound, "message_not_found", err)
	case errors.Is(err, chat.ErrInvalidTarget):
		return apierr.New(http.StatusUnprocessableEntity, "invalid_target", err)
	case errors.Is(err, chat.ErrInvalidRole):
		return apierr.New(http.StatusUnprocessableEntity, "invalid_role", err)
	case errors.Is(err, chat.ErrInvalidCausalParent):
		return apierr.New(http.StatusUnprocessableEntity, "invalid_causal_parent", err)
	case errors.Is(err, chat.ErrNoCausalParent):
		return apierr.New(http.StatusUnprocessableEntity, "no_causal_parent", err)
	case errors.Is(err, chat.ErrIdentityMismatch):
		return apierr.New(http.StatusUnprocessableEntity, "identity_mismatch", err)
	case errors.Is(err, chat.ErrRegenerationInProgress):
		return apierr.New(http.StatusConflict, "regeneration_in_progress", err)
	case errors.Is(err, chat.ErrStaleRegeneration):
		return apierr.New(http.StatusConflict, "stale_regeneration", err)
	case errors.Is(err, chat.ErrDuplicateID):
		return apierr.New(http.StatusConflict, "duplicate_id", err)
	case errors.Is(err, chat.ErrNoText):
		return apierr.New(http.StatusBadRequest, "no_text", err)
	case errors.Is(err, chat.ErrInvalidArgument):
		return apierr.New(http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apierr.NewRetryable(http.StatusServiceUnavailable, "timeout", err)
	}

	switch {
	case domainagg.IsCode(err, domainagg.CodeValidation):
		return apierr.New(http.StatusBadRequest, "invalid_argument", err)
	case domainagg.IsCode(err, domainagg.CodeNotFound):
		return apierr.New(http.StatusNotFound, "not_found", err)
	case domainagg.IsCode(err, domainagg.CodeConflict):
		return apierr.New(http.StatusConflict, "conflict", err)
	case domainagg.Retryable(err):
		return apierr.NewRetryable(http.StatusServiceUnavailable, "store_busy", err)
	}
	if chat.IsStoreError(err) {
		return apierr.New(http.StatusInternalServerError, "store_error", err)
	}
	return apierr.New(http.StatusInternalServerError, "internal", err)
}
