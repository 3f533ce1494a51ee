package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/permission"
	"github.com/edusql/edusql/internal/pipeline"
	"github.com/edusql/edusql/internal/sqlguard"
)

const maxRequestBytes = 64 << 10

type askRequest struct {
	Text      string         `json:"text"`
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context"`
}

type askResponse struct {
	pipeline.Answer
	TraceID string `json:"trace_id,omitempty"`
}

type validateRequest struct {
	SQL string `json:"sql"`
}

type validateResponse struct {
	sqlguard.Result
	Role string `json:"role"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	identity, err := identityFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "CALLER_REQUIRED", err.Error(), false, nil)
		return
	}

	var request askRequest
	if !decodeBody(w, r, &request) {
		return
	}

	answer := deps.Pipeline.Ask(r.Context(), pipeline.Request{
		Text:       request.Text,
		SessionID:  strings.TrimSpace(request.SessionID),
		CallerID:   identity.CallerID,
		CallerRole: identity.Role,
		Context:    request.Context,
	})
	writeJSON(w, answer.HTTPStatus(), askResponse{
		Answer:  answer,
		TraceID: observability.TraceIDFromContext(r.Context()),
	})
}

func handleValidateSQL(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "CALLER_REQUIRED", err.Error(), false, nil)
		return
	}

	var request validateRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	role := permission.ParseRole(identity.Role)
	writeJSON(w, http.StatusOK, validateResponse{
		Result: sqlguard.Validate(request.SQL, permission.Resolve(role)),
		Role:   string(role),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}
