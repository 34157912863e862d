package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/andy963/ads/internal/apperr"
)

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	projects, err := h.auth.ListProjects(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type createProjectRequest struct {
	WorkspaceRoot string `json:"workspace_root"`
	DisplayName   string `json:"display_name"`
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "invalid JSON: %v", err))
		return
	}
	if req.WorkspaceRoot == "" {
		writeError(w, apperr.Wrap(apperr.Input, "workspace_root is required"))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.WorkspaceRoot
	}

	project, err := h.auth.CreateProject(r.Context(), userID, uuid.NewString(), req.WorkspaceRoot, req.DisplayName, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if h.onProjectCreated != nil {
		h.onProjectCreated(project)
	}
	writeJSON(w, http.StatusCreated, project)
}

type updateProjectRequest struct {
	DisplayName   string `json:"display_name"`
	ChatSessionID string `json:"chat_session_id"`
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	projectID := r.PathValue("id")

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "invalid JSON: %v", err))
		return
	}
	if err := h.auth.UpdateProject(r.Context(), userID, projectID, req.DisplayName, req.ChatSessionID, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	projectID := r.PathValue("id")
	if err := h.auth.DeleteProject(r.Context(), userID, projectID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

type reorderProjectsRequest struct {
	OrderedIDs []string `json:"ordered_ids"`
}

func (h *Handler) handleReorderProjects(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	var req reorderProjectsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "invalid JSON: %v", err))
		return
	}
	if err := h.auth.ReorderProjects(r.Context(), userID, req.OrderedIDs, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}
