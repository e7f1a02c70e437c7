package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/jobs"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/ocr"
)

// downloadURLTTL bounds how long a presigned archive link stays valid.
const downloadURLTTL = 15 * time.Minute

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
		"service": "docintel",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// A cheap count doubles as the store liveness probe.
	if _, err := s.store.CountDLQ(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// spoolUpload validates the multipart file and writes it to the upload
// directory. Returns the created document.
func (s *Server) spoolUpload(w http.ResponseWriter, r *http.Request) (*model.Document, bool) {
	maxMB := s.cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 25
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxMB)<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return nil, false
	}
	defer file.Close() //nolint:errcheck

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		respondError(w, http.StatusBadRequest, "filename is required")
		return nil, false
	}
	if !ocr.SupportedExt(filename) {
		respondError(w, http.StatusBadRequest, "unsupported file type: "+filepath.Ext(filename))
		return nil, false
	}

	dir := s.cfg.UploadDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "docintel-uploads")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		respondError(w, http.StatusInternalServerError, "upload directory unavailable")
		return nil, false
	}

	path := filepath.Join(dir, uuid.New().String()+"_"+filename)
	dst, err := os.Create(path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "spool upload failed")
		return nil, false
	}
	size, err := io.Copy(dst, file)
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		respondError(w, http.StatusInternalServerError, "spool upload failed")
		return nil, false
	}
	if size == 0 {
		_ = os.Remove(path)
		respondError(w, http.StatusBadRequest, "uploaded file is empty")
		return nil, false
	}

	contentType := header.Header.Get("Content-Type")
	doc, err := s.store.CreateDocument(r.Context(), filename, contentType, size, path)
	if err != nil {
		zap.L().Error("create document failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "create document failed")
		return nil, false
	}
	return doc, true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.spoolUpload(w, r)
	if !ok {
		return
	}

	text, err := s.engine.ExtractText(r.Context(), doc.StoragePath)
	if err != nil {
		zap.L().Error("ocr failed", zap.String("document_id", doc.ID), zap.Error(err))
		_ = s.store.UpdateDocumentStatus(r.Context(), doc.ID, model.DocumentStatusFailed, err.Error())
		respondError(w, http.StatusUnprocessableEntity, "text extraction failed")
		return
	}
	if err := s.store.SetDocumentText(r.Context(), doc.ID, text); err != nil {
		zap.L().Error("store text failed", zap.String("document_id", doc.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store text failed")
		return
	}
	_ = s.store.UpdateDocumentStatus(r.Context(), doc.ID, model.DocumentStatusCompleted, "")

	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"document_id": doc.ID,
		"text":        text,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "job queue is not configured")
		return
	}

	doc, ok := s.spoolUpload(w, r)
	if !ok {
		return
	}

	job := jobs.NewJob(doc.ID, r.FormValue("provider"))
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		zap.L().Error("enqueue failed", zap.String("document_id", doc.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.ID,
		"document_id": doc.ID,
		"status":      string(jobs.StatusPending),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "id")

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		if isNotFound(err) {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		zap.L().Error("get document failed", zap.String("document_id", docID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "get document failed")
		return
	}

	extractions, err := s.store.ListExtractions(r.Context(), docID)
	if err != nil {
		zap.L().Error("list extractions failed", zap.String("document_id", docID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list extractions failed")
		return
	}

	resp := map[string]any{
		"document":    doc,
		"extractions": extractions,
	}

	if doc.ArchiveKey != "" && s.archive.Available() {
		url, err := s.archive.Presign(r.Context(), doc.ArchiveKey, downloadURLTTL)
		if err != nil {
			zap.L().Warn("presign archived document failed",
				zap.String("document_id", docID), zap.Error(err))
		} else {
			resp["download_url"] = url
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "job queue is not configured")
		return
	}

	jobID := chi.URLParam(r, "id")
	rec, err := s.queue.GetStatus(r.Context(), jobID)
	if err != nil {
		zap.L().Error("job status failed", zap.String("job_id", jobID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "job status failed")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDriftStats(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		respondError(w, http.StatusServiceUnavailable, "drift recording is not enabled")
		return
	}

	provider := r.URL.Query().Get("provider")
	if provider == "" {
		respondJSON(w, http.StatusOK, s.recorder.AllStats())
		return
	}

	stats, ok := s.recorder.Stats(provider)
	if !ok {
		respondError(w, http.StatusNotFound, "no drift samples for provider "+provider)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDriftBaseline(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		respondError(w, http.StatusServiceUnavailable, "drift recording is not enabled")
		return
	}

	var req struct {
		Provider string  `json:"provider"`
		Accuracy float64 `json:"accuracy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" {
		respondError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if req.Accuracy < 0 || req.Accuracy > 1 {
		respondError(w, http.StatusBadRequest, "accuracy must be between 0 and 1")
		return
	}

	s.recorder.SetBaseline(req.Provider, req.Accuracy)
	respondJSON(w, http.StatusOK, map[string]any{
		"provider": req.Provider,
		"baseline": req.Accuracy,
	})
}

func (s *Server) handleDriftClear(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		respondError(w, http.StatusServiceUnavailable, "drift recording is not enabled")
		return
	}

	provider := chi.URLParam(r, "provider")
	if !s.recorder.Clear(provider) {
		respondError(w, http.StatusNotFound, "no drift detector for provider "+provider)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
