package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/canopyhq/canopy/internal/notebook"
	"github.com/canopyhq/canopy/internal/storage"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AttachmentHandler serves and accepts attachment files. Attachments live
// in the page's child directory, so the attachments of A:B sit next to
// the files of A:B's child pages and move with the subtree.
type AttachmentHandler struct {
	root string
}

// NewAttachmentHandler creates a handler rooted at the notebook directory.
func NewAttachmentHandler(root string) *AttachmentHandler {
	return &AttachmentHandler{root: root}
}

// attachmentPage extracts and validates the ?page= query parameter,
// answering 400 itself.
func attachmentPage(w http.ResponseWriter, r *http.Request) (notebook.PagePath, bool) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'page' is required"))
		return notebook.PagePath{}, false
	}
	return pagePath(w, raw)
}

// safeName validates that name is a plain file name (no path separators,
// no traversal) and resolves it inside the page's attachment directory.
func (h *AttachmentHandler) safeName(page notebook.PagePath, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	// Reject anything with path separators or traversal.
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if strings.HasSuffix(cleaned, storage.PageExt) {
		return "", fmt.Errorf("%s files are pages, not attachments", storage.PageExt)
	}
	dir := filepath.Join(h.root, filepath.FromSlash(page.DirPath()))
	abs := filepath.Join(dir, cleaned)
	// Double-check the resolved path is under the page directory.
	if !strings.HasPrefix(abs, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes attachment directory")
	}
	return abs, nil
}

// ServeFile handles GET /api/attachments?page=&name=.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	page, ok := attachmentPage(w, r)
	if !ok {
		return
	}
	abs, err := h.safeName(page, r.URL.Query().Get("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, statErr := os.Stat(abs); os.IsNotExist(statErr) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/attachments?page= (multipart/form-data, field
// "file").
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	page, ok := attachmentPage(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	abs, err := h.safeName(page, header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create attachment dir"))
		return
	}
	dst, err := os.Create(abs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create file"))
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"page":     page.Name,
		"filename": header.Filename,
		"size":     written,
	})
}
