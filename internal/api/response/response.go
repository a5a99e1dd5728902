// Package response renders the JSON envelope every API endpoint speaks.
//
// Successful responses carry the payload under "data"; collection
// responses add a "meta" object with pagination fields; failures carry
// a machine-readable code and a human-readable message under "error".
// Handlers never write JSON directly, so the wire contract lives in
// exactly one place.
package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// PaginationMeta accompanies list responses so clients can page
// without counting rows themselves.
type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// JSON writes data inside the standard envelope with a 200.
func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// Created writes data with a 201 for freshly created resources.
func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

// Accepted writes data with a 202. Used by the upload endpoint, which
// queues work instead of finishing it inline.
func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// NoContent writes an empty 204. Revocations and deletes have nothing
// useful to return.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Collection writes a paginated list: the items under "data", the
// paging state under "meta".
func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

// Error writes the error envelope. code is a stable machine-readable
// identifier (clients switch on it); message is for humans and may
// change between releases. details is optional structured context.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
