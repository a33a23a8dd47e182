package api

import (
	"encoding/json"
	"net/http"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var codeStatus = map[apperror.Code]int{
	apperror.UnsupportedFormat:        http.StatusUnsupportedMediaType,
	apperror.PayloadTooLarge:          http.StatusRequestEntityTooLarge,
	apperror.DurationUnavailable:      http.StatusUnprocessableEntity,
	apperror.DurationExceeded:         http.StatusForbidden,
	apperror.EngineBusy:               http.StatusServiceUnavailable,
	apperror.TranscriptionFailed:      http.StatusBadGateway,
	apperror.ArtifactGenerationFailed: http.StatusInternalServerError,
	apperror.SignatureInvalid:         http.StatusBadRequest,
	apperror.Timeout:                  http.StatusGatewayTimeout,
	apperror.Internal:                 http.StatusInternalServerError,
}

// statusFor maps an error code to its HTTP status.
func statusFor(code apperror.Code) int {
	if st, ok := codeStatus[code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

// writeAppError writes err using its code. Only the client-safe message and
// details are exposed.
func writeAppError(w http.ResponseWriter, err error) {
	ae, ok := apperror.As(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, string(apperror.Internal), "internal error", nil)
		return
	}
	if ae.Code == apperror.EngineBusy {
		w.Header().Set("Retry-After", "5")
	}
	msg := ae.Message
	if msg == "" {
		msg = string(ae.Code)
	}
	writeError(w, statusFor(ae.Code), string(ae.Code), msg, ae.Details)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: code, Message: message, Details: details})
}
