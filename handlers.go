package contractmatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klipach/contractmatch/auth"
	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/messaging"
	"github.com/klipach/contractmatch/profile"
)

const conversationIDLogField = "conversationID"

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// selfRef is the caller's ref with the kind filled in from the profile
// collections when the token did not carry one.
func (a *App) selfRef(r *http.Request) profile.Ref {
	ref := principal(r).Ref()
	if !ref.Kind.Valid() {
		if _, kind, err := a.profiles.Locate(r.Context(), ref.UID); err == nil {
			ref.Kind = kind
		}
	}
	return ref
}

func (a *App) createConversation(w http.ResponseWriter, r *http.Request) {
	var req contract.CreateConversationRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	_, kind, err := a.profiles.Locate(ctx, req.ParticipantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := a.conversations.GetOrCreate(ctx, a.selfRef(r), profile.Ref{UID: req.ParticipantID, Kind: kind})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *App) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "conversationID")
	if _, err := a.conversations.GetFor(ctx, id, principal(r).UID); err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := a.conversations.Messages(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// sendMessage treats blank content as a no-op, the way an empty composer
// ignores the send button.
func (a *App) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req contract.SendMessageRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "conversationID")
	ctx := log.WithLogger(r.Context(), log.LoggerFromContext(r.Context()).With(slog.String(conversationIDLogField, id)))

	receipt, err := a.composer.Send(ctx, id, principal(r).UID, req.Content)
	if errors.Is(err, messaging.ErrEmptyMessage) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contract.SendMessageResponse{
		MessageID:    receipt.MessageID,
		SummaryStale: receipt.SummaryErr != nil,
	})
}

func (a *App) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "conversationID")
	uid := principal(r).UID
	if _, err := a.conversations.GetFor(ctx, id, uid); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.conversations.MarkRead(ctx, id, uid); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ownProfile(w http.ResponseWriter, r *http.Request) {
	p, _, err := a.profiles.Find(r.Context(), principal(r).Ref())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) publicProfile(w http.ResponseWriter, r *http.Request) {
	p, _, err := a.profiles.Locate(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req contract.ProfileUpdateRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := a.profiles.Update(r.Context(), principal(r).Ref(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// uploadPhoto takes the raw image as the request body.
func (a *App) uploadPhoto(w http.ResponseWriter, r *http.Request) {
	limit := a.cfg.MaxPhotoBytes
	if limit <= 0 {
		limit = profile.DefaultMaxPhotoBytes
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	url, err := a.profiles.UploadPhoto(r.Context(), principal(r).Ref(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract.PhotoResponse{PhotoURL: url})
}

type connectionOp func(ctx context.Context, me profile.Ref, otherUID string) error

func (a *App) connection(op connectionOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), principal(r).Ref(), chi.URLParam(r, "uid")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
