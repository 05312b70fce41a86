package contractmatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/klipach/contractmatch/auth"
	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/feed"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/messaging"
	"github.com/klipach/contractmatch/profile"
)

const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

// decode reads a JSON body into v and validates it.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := a.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	logger := log.LoggerFromContext(r.Context())
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Int("status", status), slog.String(log.ErrorMsgLogField, msg))
		msg = "upstream service unavailable"
	} else {
		logger.Info("request rejected", slog.Int("status", status), slog.String(log.ErrorMsgLogField, msg))
	}
	writeJSON(w, status, contract.ErrorResponse{Error: msg})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, messaging.ErrSignedOut):
		return http.StatusUnauthorized
	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, profile.ErrProfileNotFound),
		errors.Is(err, feed.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, messaging.ErrNotParticipant),
		errors.Is(err, feed.ErrNotAuthor):
		return http.StatusForbidden
	case errors.Is(err, profile.ErrPhotoTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, profile.ErrAlreadyConnected),
		errors.Is(err, profile.ErrRequestPending),
		errors.Is(err, profile.ErrNoPendingRequest),
		errors.Is(err, profile.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, messaging.ErrSameParticipant),
		errors.Is(err, profile.ErrInvalidProfile),
		errors.Is(err, profile.ErrNotImage),
		errors.Is(err, profile.ErrUnknownKind),
		errors.Is(err, profile.ErrSelfConnection),
		errors.Is(err, feed.ErrEmptyPost),
		errors.Is(err, feed.ErrEmptyComment),
		errors.Is(err, feed.ErrInvalidPostType):
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
