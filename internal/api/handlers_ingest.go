package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/charmem/internal/parser"
	"github.com/dgallion1/charmem/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type upload struct {
	filename string
	data     []byte
}

// readUpload pulls the first present file field out of a multipart form and
// enforces the size limit. On failure it has already written the response.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, fields ...string) (upload, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return upload{}, false
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range fields {
		file, header, err = r.FormFile(field)
		if err == nil {
			break
		}
	}
	if err != nil {
		jsonError(w, fmt.Sprintf("file is required (%s)", strings.Join(fields, " or ")), http.StatusBadRequest)
		return upload{}, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return upload{}, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return upload{}, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return upload{}, false
	}
	return upload{filename: filename, data: data}, true
}

// saveUpload stores the original file so the reader can open it.
func (s *Server) saveUpload(u upload) error {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	return os.WriteFile(filepath.Join(s.cfg.UploadDir, u.filename), u.data, 0o644)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	u, ok := s.readUpload(w, r, "pdf", "file")
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	sess, ok := s.resolveSession(w, r.FormValue("session_id"))
	if !ok {
		return
	}
	if err := s.saveUpload(u); err != nil {
		s.log.Error("save upload failed", "filename", u.filename, "error", err)
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	res := s.ingester.Ingest(r.Context(), sess, u.filename, u.data)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"success":    res.Success,
		"pages":      res.Pages,
		"message":    res.Message,
		"error":      res.Error,
		"session_id": sess.ID,
		"pdf_url":    "/pdf/" + u.filename,
		"filename":   u.filename,
	})
}

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := sanitizeFilename(chi.URLParam(r, "filename"))
	path := filepath.Join(s.cfg.UploadDir, name)
	if _, err := os.Stat(path); err != nil {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	http.ServeFile(w, r, path)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	u, ok := s.readUpload(w, r, "file", "pdf")
	if !ok {
		return
	}
	defer r.MultipartForm.RemoveAll()

	sess, ok := s.resolveSession(w, r.FormValue("session_id"))
	if !ok {
		return
	}
	if err := s.saveUpload(u); err != nil {
		s.log.Error("save upload failed", "filename", u.filename, "error", err)
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	job := pipeline.NewJob(uuid.NewString(), sess.ID, u.filename, u.data, sess)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"session_id": sess.ID,
		"status":     pipeline.StatusQueued,
		"poll_url":   fmt.Sprintf("/api/books/jobs/%s", job.ID),
		"pdf_url":    "/pdf/" + u.filename,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
