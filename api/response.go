package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/tally"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Warn("api: failed to encode JSON response", "error", err)
		}
	}
}

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case tally.IsValidation(err):
		return http.StatusBadRequest
	case tally.IsConfiguration(err):
		return http.StatusInternalServerError
	case tally.IsExternal(err):
		return http.StatusBadGateway
	case errors.Is(err, tally.ErrConcurrencyExhausted):
		return http.StatusServiceUnavailable
	case tally.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err using StatusFor. Messages of server-side failures
// are not exposed to the caller.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)

	body := errorBody{Error: http.StatusText(status)}
	var ve tally.ValidationError
	switch {
	case errors.As(err, &ve):
		body = errorBody{Error: ve.Message, Field: ve.Field}
	case status == http.StatusUnauthorized:
		body.Error = "unauthorized"
	case status >= http.StatusInternalServerError:
		logger.Error("api: request failed", "status", status, "error", err)
	default:
		body.Error = err.Error()
	}

	writeJSON(w, logger, status, body)
}

// decodeJSON decodes and validates a request body.
func decodeJSON(r *http.Request, validate *validator.Validate, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return tally.ValidationError{Field: "body", Message: "invalid JSON body", Err: err}
	}
	return validateStruct(validate, v)
}

func validateStruct(validate *validator.Validate, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return tally.ValidationError{
			Field:   fe.Field(),
			Message: "failed on the '" + fe.Tag() + "' rule",
			Err:     err,
		}
	}
	return tally.ValidationError{Field: "body", Message: err.Error(), Err: err}
}
