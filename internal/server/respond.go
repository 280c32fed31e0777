package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/hession/convscope/internal/chat"
	"github.com/hession/convscope/internal/importer"
	"github.com/hession/convscope/internal/llm"
	"github.com/hession/convscope/internal/settings"
	"github.com/hession/convscope/internal/store"
)

// errBadRequest marks malformed request parameters or bodies.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	// Reply is the assistant message recorded for a failed chat turn.
	Reply *store.ChatMessage `json:"reply,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorReply(w, r, err, nil)
}

func writeErrorReply(w http.ResponseWriter, r *http.Request, err error, reply *store.ChatMessage) {
	status := statusFor(err)
	ev := hlog.FromRequest(r).Warn()
	if status >= 500 {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")

	writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Kind:  string(llm.KindOf(err)),
		Reply: reply,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *importer.FormatError
	switch {
	case errors.Is(err, errBadRequest),
		errors.As(err, &fe),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, chat.ErrNothingSelected):
		return http.StatusBadRequest
	case store.IsNotFound(err), errors.Is(err, settings.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrNoActiveEndpoint):
		return http.StatusUnauthorized
	}

	switch llm.KindOf(err) {
	case llm.KindUnauthorized:
		return http.StatusUnauthorized
	case llm.KindTimeout:
		return http.StatusGatewayTimeout
	case llm.KindNetwork, llm.KindMalformedResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(errBadRequest, "invalid id %q", raw)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}
