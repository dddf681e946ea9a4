package http

import (
	"encoding/json"
	"net/http"
)

const (
	codeNotFound            = "not_found"
	codeMethodNotAllowed    = "method_not_allowed"
	codeInvalidRequestBody  = "invalid_request_body"
	codePayloadTooLarge     = "payload_too_large"
	codeBadSignature        = "bad_signature"
	codeStaleTimestamp      = "stale_timestamp"
	codeMalformedHeader     = "malformed_header"
	codeMalformedPayload    = "malformed_payload"
	codeValidationFailed    = "validation_failed"
	codeStorageUnavailable  = "storage_unavailable"
	codeCheckoutUnavailable = "checkout_unavailable"
	codeRateLimited         = "rate_limited"
	codeUnavailable         = "unavailable"
	codeForbidden           = "forbidden"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Retry bool   `json:"retry,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
