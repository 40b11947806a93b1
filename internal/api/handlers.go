// Package api provides the HTTP handlers of the REST API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tgparser/internal/auth"
	"github.com/blockedby/tgparser/internal/cache"
	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/parser"
	"github.com/blockedby/tgparser/internal/repository"
	"github.com/blockedby/tgparser/internal/telegram"
)

// Handler handles HTTP requests of the parser service
type Handler struct {
	store  Store
	parses ParseService
	lookup Lookuper
	cache  cache.Cache
	log    *logger.Logger
}

// NewHandler creates a handler. A nil cache disables caching.
func NewHandler(store Store, parses ParseService, lookup Lookuper, c cache.Cache, log *logger.Logger) *Handler {
	if c == nil {
		c = cache.NewMemory(0)
	}
	if log == nil {
		log = logger.Get()
	}
	return &Handler{store: store, parses: parses, lookup: lookup, cache: c, log: log.Component("api")}
}

// user is set by auth.Middleware on every route of the router.
func user(r *http.Request) *models.User {
	u, _ := auth.UserFrom(r.Context())
	return u
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func pageParam(r *http.Request) repository.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	return repository.Page{Number: number, Size: size}.Normalize()
}

// StartGroupParse handles POST /parse/group
func (h *Handler) StartGroupParse(w http.ResponseWriter, r *http.Request) {
	var req ParseGroupRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = parser.ModeMembers
	}
	if req.Mode == parser.ModeChannel {
		respondError(w, http.StatusBadRequest, "use /parse/channel for channels")
		return
	}

	h.start(w, r, parser.ParseRequest{
		UserID:       user(r).ID,
		Link:         req.Link,
		Mode:         req.Mode,
		MessageLimit: req.MessageLimit,
	})
}

// StartChannelParse handles POST /parse/channel
func (h *Handler) StartChannelParse(w http.ResponseWriter, r *http.Request) {
	var req ParseChannelRequest
	if !decode(w, r, &req) {
		return
	}

	h.start(w, r, parser.ParseRequest{
		UserID:    user(r).ID,
		Link:      req.Link,
		Mode:      parser.ModeChannel,
		PostLimit: req.PostLimit,
		SavePosts: req.SavePosts,
	})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, req parser.ParseRequest) {
	job, err := h.parses.Start(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	h.log.Info().
		Str("operation_id", job.ID).
		Uint("user_id", job.UserID).
		Str("mode", string(req.Mode)).
		Msg("parse accepted")

	respondJSON(w, http.StatusAccepted, ParseStartedResponse{
		OperationID: job.ID,
		Status:      "running",
		StartedAt:   job.StartedAt,
	})
}

// Progress handles GET /parse/progress
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	s, ok := h.parses.Progress(user(r).ID)
	if !ok {
		respondJSON(w, http.StatusOK, IdleProgress{IsParsing: false})
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// CancelParse handles POST /parse/cancel
func (h *Handler) CancelParse(w http.ResponseWriter, r *http.Request) {
	if !h.parses.Cancel(user(r).ID) {
		respondError(w, http.StatusNotFound, "no parse is running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Lookup handles GET /lookup?link=
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	res, err := h.lookup.Lookup(r.Context(), r.URL.Query().Get("link"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListGroups handles GET /groups
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	uid := user(r).ID
	p := pageParam(r)

	res, err := cache.Fetch(r.Context(), h.cache, cache.GroupsKey(uid, p.Number, p.Size),
		func(ctx context.Context) (*repository.PageResult[models.Group], error) {
			return h.store.ListGroups(ctx, uid, p)
		})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ownedGroup loads the group named by {id} or writes a 404.
func (h *Handler) ownedGroup(w http.ResponseWriter, r *http.Request) (*models.Group, bool) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return nil, false
	}
	g, err := h.store.GetGroup(r.Context(), user(r).ID, id)
	if err != nil {
		respondErr(w, r, err)
		return nil, false
	}
	if g == nil {
		respondError(w, http.StatusNotFound, "group not found")
		return nil, false
	}
	return g, true
}

// GetGroup handles GET /groups/{id}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, g)
}

// DeleteGroup handles DELETE /groups/{id}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteGroup(r.Context(), g.ID); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.cache.InvalidateUser(r.Context(), g.UserID); err != nil {
		h.log.Warn().Err(err).Uint("user_id", g.UserID).Msg("cache invalidation failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers handles GET /groups/{id}/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	g, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	p := pageParam(r)

	res, err := cache.Fetch(r.Context(), h.cache, cache.MembersKey(g.UserID, g.ID, p.Number, p.Size),
		func(ctx context.Context) (*repository.PageResult[models.Member], error) {
			return h.store.ListMembers(ctx, g.ID, p)
		})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListPosts handles GET /groups/{id}/posts
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	g, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	res, err := h.store.ListPosts(r.Context(), g.ID, pageParam(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListComments handles GET /posts/{id}/comments
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	post, err := h.store.GetPost(r.Context(), user(r).ID, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if post == nil {
		respondError(w, http.StatusNotFound, "post not found")
		return
	}

	res, err := h.store.ListComments(r.Context(), post.ID, pageParam(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context(), user(r).ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	req.SessionString = strings.TrimSpace(req.SessionString)
	if _, err := telegram.DetectSessionFormat(req.SessionString); err != nil {
		respondErr(w, r, err)
		return
	}

	sess := &models.TelegramSession{
		UserID:        user(r).ID,
		Phone:         strings.TrimSpace(req.Phone),
		SessionString: req.SessionString,
		IsActive:      req.Activate == nil || *req.Activate,
	}
	if err := h.store.CreateSession(r.Context(), sess); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

// ActivateSession handles POST /sessions/{id}/activate
func (h *Handler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	found, err := h.store.ActivateSession(r.Context(), user(r).ID, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": true})
}

// DeleteSession handles DELETE /sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	found, err := h.store.DeleteSession(r.Context(), user(r).ID, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
