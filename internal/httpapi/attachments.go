package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/andy963/ads/internal/apperr"
)

const maxAttachmentBytes = 25 << 20 // 25MiB, generous enough for chat-attached images/audio

// handleUploadAttachment accepts a multipart/form-data upload (field "file",
// optional "width"/"height" form fields for images) and stores it unassigned
// in the project's content-addressed blob store.
func (h *Handler) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "invalid multipart upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "missing \"file\" field: %v", err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes+1))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "read upload: %v", err))
		return
	}
	if len(content) > maxAttachmentBytes {
		writeError(w, apperr.Wrap(apperr.Input, "attachment exceeds %d bytes", maxAttachmentBytes))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	width := formInt(r, "width")
	height := formInt(r, "height")

	att, err := rt.Tasks.CreateAttachment(r.Context(), content, contentType, header.Filename, width, height)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// handleListAttachments returns a task's attachments, or every unassigned
// attachment in the project when task_id is omitted.
func (h *Handler) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	attachments, err := rt.Tasks.ListAttachments(r.Context(), r.URL.Query().Get("task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attachments)
}

type assignAttachmentRequest struct {
	TaskID string `json:"task_id"`
}

// handleAssignAttachment binds an uploaded-but-unassigned attachment to a
// task, the "attachments-assignment" operation spec §2 Module G names.
func (h *Handler) handleAssignAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentID := r.PathValue("id")
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	var req assignAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Input, "invalid JSON: %v", err))
		return
	}
	if req.TaskID == "" {
		writeError(w, apperr.Wrap(apperr.Input, "task_id is required"))
		return
	}

	if err := rt.Tasks.AssignAttachment(r.Context(), attachmentID, req.TaskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": attachmentID, "task_id": req.TaskID})
}

// handleDownloadAttachment streams an attachment's blob content back.
func (h *Handler) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentID := r.PathValue("id")
	projectID := r.URL.Query().Get("project_id")
	rt, err := h.runtimes.Get(projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	att, content, err := rt.Tasks.ReadBlob(r.Context(), attachmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", att.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func formInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.FormValue(key))
	return n
}
