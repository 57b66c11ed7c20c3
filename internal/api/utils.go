package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/repository"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError maps err to a status and an ErrorResponse. Unclassified
// errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	err = classifyRepositoryError(err)
	status := apperr.HTTPStatus(err)

	resp := ErrorResponse{Hint: apperr.Hint(err)}
	if kind := apperr.KindOf(err); kind != apperr.KindUnknown {
		resp.Kind = kind.String()
		resp.Error = apperr.UserMessage(err)
	} else {
		logger.Error("Request failed", zap.Error(err))
		resp.Error = "internal error"
	}
	writeJSON(w, logger, status, resp)
}

// classifyRepositoryError gives bare repository errors an error kind
func classifyRepositoryError(err error) error {
	switch {
	case apperr.KindOf(err) != apperr.KindUnknown:
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, err.Error(), nil)
	case errors.Is(err, repository.ErrInvalidEntity):
		return apperr.Wrap(apperr.KindValidation, err.Error(), nil)
	case errors.Is(err, repository.ErrInUse), errors.Is(err, repository.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, err.Error(), nil)
	default:
		return err
	}
}

// idParam parses a positive int64 URL parameter
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Newf(apperr.KindValidation, "invalid %s %q", name, chi.URLParam(r, name))
	}
	return id, nil
}

// decodeJSON reads the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid JSON body", fmt.Sprint(err))
	}
	return nil
}
