package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/requestid"
)

// Response is the envelope of every API body.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

type responseOption func(*Response)

func withMeta(meta map[string]any) responseOption {
	return func(r *Response) { r.Meta = meta }
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any, opts ...responseOption) {
	body := Response{Data: data}
	for _, opt := range opts {
		opt(&body)
	}
	writeJSON(w, status, body)
}

// writeError classifies err, logs it at a level matching the status and
// renders the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	info := classify(err)
	level := slog.LevelWarn
	if info.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	log.LogAttrs(r.Context(), level, "request error",
		logger.Component("httpapi"),
		logger.RequestID(requestid.FromContext(r.Context())),
		logger.Error(err),
		slog.Int("status_code", info.Status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	writeJSON(w, info.Status, Response{Error: &ErrorDetail{
		Code:    info.Code,
		Message: info.Message,
		Details: info.Details,
	}})
}
