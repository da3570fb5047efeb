package api

import (
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/canopyhq/canopy/internal/notebook"
)

// sessionState snapshots a session for clients.
func sessionState(s *notebook.Session) SessionState {
	state := SessionState{
		Name:     s.Path().Name,
		Content:  string(s.Page().Content()),
		Modified: s.Modified(),
	}
	if err := s.PendingError(); err != nil {
		state.SaveError = err.Error()
	}
	return state
}

// sessionFor looks the open session up by the wildcard page name,
// answering 400/404 itself. The bool result reports whether the caller
// should continue.
func (h *Handler) sessionFor(w http.ResponseWriter, r *http.Request) (*notebook.Session, bool) {
	raw := pageName(r)
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("page name is required"))
		return nil, false
	}
	path, ok := pagePath(w, raw)
	if !ok {
		return nil, false
	}
	s, found := h.nb.Session(path.Name)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("no open session"))
		return nil, false
	}
	return s, true
}

// OpenSession handles POST /api/sessions. Opening a page that already has
// a session attaches to it, so concurrent editors share staged content.
//
//	@Summary		Open an edit session on a page
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenSessionRequest	true	"Page to edit"
//	@Success		200		{object}	SessionState
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	path, ok := pagePath(w, req.Name)
	if !ok {
		return
	}
	s, err := h.nb.OpenSession(path)
	if err != nil {
		slog.Error("open session failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, sessionState(s))
}

// GetSession handles GET /api/sessions/*.
//
//	@Summary		Inspect an open edit session
//	@Tags			sessions
//	@Produce		json
//	@Param			name	path		string	true	"Page name"
//	@Success		200		{object}	SessionState
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{name} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionState(s))
}

// StageDraft handles PUT /api/sessions/*. Content is staged in memory
// only; the autosave ticker, an explicit save or session close persists
// it.
//
//	@Summary		Stage draft content in an edit session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string			true	"Page name"
//	@Param			body	body		DraftRequest	true	"Draft content"
//	@Success		200		{object}	SessionState
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{name} [put]
func (h *Handler) StageDraft(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	s, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := s.SetContent([]byte(req.Content)); err != nil {
		writeJSON(w, http.StatusConflict, errorBody("session closed"))
		return
	}
	writeJSON(w, http.StatusOK, sessionState(s))
}

// SaveSession handles POST /api/sessions/save. The save runs in the
// request goroutine; a failure is reported here rather than through the
// background save error channel.
//
//	@Summary		Save an edit session now
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveSessionRequest	true	"Page name"
//	@Success		200		{object}	SessionState
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/save [post]
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	var req SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	path, ok := pagePath(w, req.Name)
	if !ok {
		return
	}
	s, found := h.nb.Session(path.Name)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("no open session"))
		return
	}
	if err := s.Save(); err != nil {
		if errors.Is(err, notebook.ErrSessionClosed) {
			writeJSON(w, http.StatusConflict, errorBody("session closed"))
			return
		}
		slog.Error("save session failed", slog.String("page", path.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("save failed"))
		return
	}
	writeJSON(w, http.StatusOK, sessionState(s))
}

// CloseSession handles DELETE /api/sessions/*. Closing saves outstanding
// changes first.
//
//	@Summary		Close an edit session
//	@Tags			sessions
//	@Param			name	path	string	true	"Page name"
//	@Success		204		"Session closed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{name} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFor(w, r)
	if !ok {
		return
	}
	if err := s.Close(); err != nil {
		slog.Error("close session failed", slog.String("page", s.Path().Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("save failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
