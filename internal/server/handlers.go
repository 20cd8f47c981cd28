package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
)

// Error codes carried in error bodies.
const (
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeInfrastructure = "search_infrastructure_error"
	codeTimeout        = "timeout"
	codeInternal       = "internal_error"
)

const (
	multipartMemory  = 32 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	s.search(w, r, &q)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := models.SearchQuery{
		Query: params.Get("q"),
		Tier:  models.Tier(params.Get("tier")),
		User:  params.Get("user"),
	}
	if n := params.Get("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "n must be an integer")
			return
		}
		q.ResultCount = v
	}
	s.search(w, r, &q)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, q *models.SearchQuery) {
	s.logger.Debug("search request",
		zap.String("query", q.Query),
		zap.String("tier", string(q.Tier)),
		zap.Int("result_count", q.ResultCount))
	resp, err := s.engine.Search(r.Context(), q)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, search.ErrInvalidQuery):
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.respondJSON(w, http.StatusGatewayTimeout, errorBody{Error: "search timed out", Code: codeTimeout, Retryable: true})
	case errors.Is(err, search.ErrInfrastructure):
		s.respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: codeInfrastructure, Retryable: true})
	default:
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

type submitRequest struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	UploadedBy string `json:"uploaded_by,omitempty"`
}

// handleSubmitDocument accepts a multipart "file" part or a JSON body with
// name and content. The document is processed asynchronously.
func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var ref models.FileRef
	if isMultipart(r) {
		refs, err := s.multipartFiles(r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		if len(refs) != 1 {
			s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "exactly one file part is required")
			return
		}
		ref = refs[0]
	} else {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
			return
		}
		ref = fileid.FromBytes(baseName(req.Name), []byte(req.Content), uploader(r, req.UploadedBy))
	}

	res, err := s.pipeline.Submit(r.Context(), ref)
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	if !isMultipart(r) {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "multipart form required")
		return
	}
	refs, err := s.multipartFiles(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if len(refs) == 0 {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "no files in request")
		return
	}
	outcomes := s.pipeline.SubmitBulk(r.Context(), refs)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": outcomes})
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, indexer.ErrInvalidFile):
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, indexer.ErrClosed):
		s.respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: codeInternal, Retryable: true})
	default:
		s.logger.Error("submit failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	state := models.State(params.Get("state"))
	if state != "" && !state.Valid() {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("unknown state %q", state))
		return
	}
	offset, err := intParam(params.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid offset")
		return
	}
	limit, err := intParam(params.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid limit")
		return
	}
	limit = min(limit, maxListLimit)

	docs, err := s.pipeline.List(r.Context(), state, offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.pipeline.Status(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("document status failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	err := s.pipeline.Delete(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("deletion failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("health: count documents failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	chunks, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("health: count chunks failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	embeddings, err := s.storage.CountReadyEmbeddings(ctx)
	if err != nil {
		s.logger.Error("health: count embeddings failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}

	byState := make(map[string]int, len(models.States))
	total := 0
	for _, st := range models.States {
		byState[string(st)] = counts[st]
		total += counts[st]
	}
	resp := map[string]interface{}{
		"status":             "ok",
		"documents":          total,
		"documents_by_state": byState,
		"chunks":             chunks,
		"ready_embeddings":   embeddings,
	}
	if len(s.diskPaths) > 0 {
		if n, err := storage.DiskUsageBytes(s.diskPaths...); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, codeInvalidRequest, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, codeInvalidRequest, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, codeNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, codeInvalidRequest, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchConfig() {
	if s.configPath == "" || s.watchConfig == nil {
		return
	}
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	s.watchConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.watchConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
}

// multipartFiles reads every file part of the form into a file reference.
func (s *Server) multipartFiles(r *http.Request) ([]models.FileRef, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	by := uploader(r, r.FormValue("uploaded_by"))
	var refs []models.FileRef
	for _, field := range []string{"file", "files"} {
		for _, fh := range r.MultipartForm.File[field] {
			data, err := readPart(fh)
			if err != nil {
				return nil, err
			}
			refs = append(refs, fileid.FromBytes(baseName(fh.Filename), data, by))
		}
	}
	return refs, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}

// baseName strips any client supplied directory from name.
func baseName(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return filepath.Base(name)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func uploader(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("X-Uploaded-By")
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorBody{Error: message, Code: code})
}
