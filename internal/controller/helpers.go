package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/pedrolacerda/payflow/internal/domain/errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrEventNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrRoutingConfigNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrConnectionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrObligationNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrDeadLetterNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrNoProcessorAvailable, http.StatusUnprocessableEntity, "no_processor_available"},
	{domainErrors.ErrProcessorRejected, http.StatusUnprocessableEntity, "payment_rejected"},
	{domainErrors.ErrRetriesExhausted, http.StatusUnprocessableEntity, "retries_exhausted"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrTransactionCovered, http.StatusConflict, "transaction_covered"},
	{domainErrors.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{domainErrors.ErrEventDeadLetter, http.StatusGone, "dead_lettered"},
	{domainErrors.ErrDuplicateEvent, http.StatusConflict, "duplicate_event"},
	{domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrProcessorUnavailable, http.StatusServiceUnavailable, "processor_unavailable"},
	{domainErrors.ErrProcessorTimeout, http.StatusServiceUnavailable, "processor_timeout"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.err == domainErrors.ErrProcessorRejected {
				// Payer-facing: never leak processor decline details.
				resp.Error = "payment could not be completed"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
