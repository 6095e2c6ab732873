package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/service"
)

// DissolveHandler handles POST /v1/dissolve requests.
type DissolveHandler struct {
	svc          *service.Service
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewDissolveHandler creates a dissolve handler. A maxBodyBytes of zero or
// less leaves the body size unbounded.
func NewDissolveHandler(svc *service.Service, maxBodyBytes int64, logger *slog.Logger) *DissolveHandler {
	return &DissolveHandler{svc: svc, maxBodyBytes: maxBodyBytes, logger: logger}
}

// ServeHTTP handles the dissolve HTTP request.
func (h *DissolveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	var req service.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, ErrorResponse{
			Error:     fmt.Sprintf("invalid request body: %v", err),
			RequestID: requestID,
		})
		return
	}

	resp, err := h.svc.Dissolve(r.Context(), &req)
	if err != nil {
		status := StatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("dissolve failed", "error", err, "request_id", requestID)
		}
		writeError(w, status, ErrorResponse{
			Error:     err.Error(),
			Category:  string(dserrors.GetCategory(err)),
			Code:      dserrors.GetCode(err),
			RequestID: requestID,
		})
		return
	}

	resp.RequestID = requestID
	writeJSON(w, http.StatusOK, resp)
}

// StatusCode maps a dissolve error to an HTTP status.
func StatusCode(err error) int {
	code := dserrors.GetCode(err)
	switch code {
	case dserrors.CodeCapabilityMismatch:
		return http.StatusUnprocessableEntity
	case dserrors.CodeTypeMismatch, dserrors.CodeDecodeFailed:
		return http.StatusBadRequest
	case dserrors.CodeObjectNotFound:
		return http.StatusNotFound
	}
	switch dserrors.GetCategory(err) {
	case dserrors.ErrCategoryValidation, dserrors.ErrCategoryGrouping:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
