package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/attachments"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AttachmentHandler accepts image uploads and serves stored attachments.
type AttachmentHandler struct {
	mgr *attachments.Manager
}

// NewAttachmentHandler creates a handler backed by the attachment manager.
func NewAttachmentHandler(mgr *attachments.Manager) *AttachmentHandler {
	return &AttachmentHandler{mgr: mgr}
}

// safeName rejects anything that is not a plain file name.
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return cleaned, nil
}

// Upload handles POST /api/attachments (multipart/form-data, field "file").
// The image is re-encoded to JPEG and stored under a fresh name; the
// response includes a markdown image reference ready to paste into a note.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}

	filename, err := h.mgr.SaveImage(data)
	if err != nil {
		if errors.Is(err, apperr.ErrWriteFailure) {
			writeJSON(w, http.StatusBadRequest, errorBody("unsupported or corrupt image"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to store image"))
		return
	}

	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{
		Filename: filename,
		URL:      "/api/attachments/" + filename,
		Markdown: fmt.Sprintf("![](%s)", filename),
	})
}

// ServeFile handles GET /api/attachments/{filename}. It serves both stored
// images and generated note PDFs; everything lives in one flat directory.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	name, err := safeName(filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.mgr.Dir(), name))
}
