package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Datify-sh/Datify/internal/domain"
)

// errorBody is the envelope every non-2xx response carries.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    domain.ErrorCode  `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an untyped failure as an OTHER envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, domain.CodeOther, msg, nil)
}

// writeErrorCode sends an explicit code without going through a domain error.
func writeErrorCode(w http.ResponseWriter, status int, code domain.ErrorCode, msg string, details map[string]string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg, Details: details}})
}

// writeDomainError maps a service failure onto the wire envelope. Untyped
// errors surface as OTHER with a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		writeErrorCode(w, http.StatusInternalServerError, domain.CodeOther, err.Error(), nil)
		return
	}
	writeErrorCode(w, httpStatus(de.Code), de.Code, de.Message, de.Details)
}

// httpStatus maps error codes to HTTP statuses.
func httpStatus(code domain.ErrorCode) int {
	switch code {
	case domain.CodeDuplicateName, domain.CodeConflictingState:
		return http.StatusConflict
	case domain.CodeBadName, domain.CodeUnsupportedVersion, domain.CodeUnsupportedBranchMode, domain.CodeInvalidConfig:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeQuotaExceeded, domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodePortExhausted:
		return http.StatusServiceUnavailable
	case domain.CodeRuntimeUnavailable:
		return http.StatusBadGateway
	case domain.CodeReadinessTimeout, domain.CodeScrapeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeAuthFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body into dst, rejecting unknown garbage early.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return domain.WrapError(domain.CodeInvalidConfig, err, "invalid request body")
	}
	return nil
}
