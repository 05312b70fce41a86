package contractmatch

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klipach/contractmatch/contract"
)

func (a *App) listPosts(w http.ResponseWriter, r *http.Request) {
	views, err := a.feed.List(r.Context(), principal(r).UID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *App) createPost(w http.ResponseWriter, r *http.Request) {
	var req contract.CreatePostRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	post, err := a.feed.Create(r.Context(), principal(r).UID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (a *App) toggleLike(w http.ResponseWriter, r *http.Request) {
	liked, err := a.feed.ToggleLike(r.Context(), chi.URLParam(r, "postID"), principal(r).UID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

func (a *App) comment(w http.ResponseWriter, r *http.Request) {
	var req contract.CommentRequest
	if err := a.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.feed.Comment(r.Context(), chi.URLParam(r, "postID"), principal(r).UID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *App) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := a.feed.Delete(r.Context(), chi.URLParam(r, "postID"), principal(r).UID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
