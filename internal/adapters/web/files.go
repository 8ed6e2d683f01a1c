package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"po-ledger/internal/app"

	"github.com/go-chi/chi/v5"
)

// uploadFile handles POST /api/files (multipart field "file").
// Responds 202 with the pending file and the ingest job.
func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, fmt.Sprintf("file exceeds maximum size of %d MB", maxUploadSize>>20),
				"FILE_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, "invalid multipart body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, "multipart field \"file\" is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	defer f.Close()

	res, err := h.svc.UploadFile(r.Context(), app.UploadRequest{Filename: fh.Filename, User: userFrom(r)}, f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, res)
}

// getFile handles GET /api/files/{id}.
func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "file id must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	file, err := h.svc.GetFile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, file)
}

// getJob handles GET /api/jobs/{id}.
func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, job)
}
