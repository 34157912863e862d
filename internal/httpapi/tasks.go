package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/taskqueue"
	"github.com/andy963/ads/internal/taskstore"
)

type createTaskRequest struct {
	ProjectID      string `json:"project_id"`
	Title          string `json:"title"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	InheritContext bool   `json:"inherit_context,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "invalid JSON: %v", err))
		return
	}
	if req.Prompt == "" {
		writeError(w, apperr.Wrap(apperr.Input, "prompt is required"))
		return
	}
	rt, err := h.runtimes.Get(req.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()
	task, err := rt.Tasks.CreateTask(r.Context(), taskstore.Task{
		Title: req.Title, Prompt: req.Prompt, Model: req.Model,
		Priority: req.Priority, InheritContext: req.InheritContext, MaxRetries: req.MaxRetries,
	}, now, taskstore.StatusPending)
	if err != nil {
		writeError(w, apperr.WrapErr(apperr.Storage, err))
		return
	}
	if err := rt.Tasks.Enqueue(r.Context(), task.ID, now); err != nil {
		writeError(w, apperr.WrapErr(apperr.Storage, err))
		return
	}
	rt.Queue.NotifyNewTask()

	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	result := rt.Control.RequestSingleTaskRun(r.Context(), taskID)
	writeJSON(w, result.StatusCode, map[string]string{"message": result.Message})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"state": string(rt.Queue.State()),
		"mode":  string(rt.Control.Mode()),
	})
}

func (h *Handler) handleQueueStart(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.Control.SetModeAll()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(taskqueue.StateRunning)})
}

func (h *Handler) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.Control.SetModeManual()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(taskqueue.StatePaused)})
}

func (h *Handler) handleApproveBundleDraft(w http.ResponseWriter, r *http.Request) {
	draftID := r.PathValue("id")
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	createdTaskIDs, err := rt.Tasks.ApproveBundleDraft(r.Context(), draftID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	rt.Queue.NotifyNewTask()
	writeJSON(w, http.StatusOK, map[string]any{"created_task_ids": createdTaskIDs})
}
