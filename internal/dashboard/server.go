package dashboard

import (
	"context"
	"crawlytics/internal/crawler"
	"crawlytics/internal/metrics"
	"crawlytics/internal/parser"
	"crawlytics/internal/storage"
	"crawlytics/internal/task"
	"crawlytics/internal/types"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxUploadMemory = 32 << 20

// Server represents the HTTP API server
type Server struct {
	tasks     TaskService
	files     LogFileStore
	patterns  *crawler.Holder
	uploadDir string
	listen    string
	router    *mux.Router
	log       *logrus.Entry
}

// NewServer creates a new API server. files may be nil when no database
// is configured; the log file routes then answer 503.
func NewServer(tasks TaskService, files LogFileStore, patterns *crawler.Holder, uploadDir, listen string, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		tasks:     tasks,
		files:     files,
		patterns:  patterns,
		uploadDir: uploadDir,
		listen:    listen,
		log:       logger.WithField("component", "dashboard"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/logs/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleTaskStatus).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/entries", s.handleTaskEntries).Methods(http.MethodGet)
	api.HandleFunc("/logfiles", s.handleListLogFiles).Methods(http.MethodGet)
	api.HandleFunc("/logfiles/active", s.handleActiveLogFile).Methods(http.MethodGet)
	api.HandleFunc("/logfiles/{id}/active", s.handleSetActive).Methods(http.MethodPut)
	api.HandleFunc("/logfiles/{id}", s.handleDeleteLogFile).Methods(http.MethodDelete)
	api.HandleFunc("/crawler-patterns", s.handleGetPatterns).Methods(http.MethodGet)
	api.HandleFunc("/crawler-patterns", s.handlePutPatterns).Methods(http.MethodPut)
	api.HandleFunc("/crawler-patterns/reset", s.handleResetPatterns).Methods(http.MethodPost)

	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Starting on %s", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleUpload stores the uploaded file and submits a job for it
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	persist := true
	if v := r.URL.Query().Get("persist"); v != "" {
		persist, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "persist must be a boolean")
			return
		}
	}

	format := r.URL.Query().Get("format")
	if format != "" {
		if _, ok := parser.VariantByName(format); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
			return
		}
	}

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.log.WithError(err).Error("Failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	id := uuid.NewString()
	s.tasks.Submit(task.Job{
		Path:         path,
		ID:           id,
		FileName:     header.Filename,
		Persist:      persist,
		RemoveSource: true,
		Format:       format,
	})

	s.log.WithFields(logrus.Fields{"task_id": id, "file": header.Filename}).Info("Upload accepted")
	writeJSON(w, http.StatusAccepted, UploadResponse{
		TaskID:   id,
		FileName: header.Filename,
		Status:   string(types.StatusPending),
		Persist:  persist,
	})
}

func (s *Server) saveUpload(src io.Reader, name string) (string, error) {
	tmp, err := os.CreateTemp(s.uploadDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.Tasks())
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.tasks.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleTaskEntries returns the matched entries of a task: from memory
// while they are not yet durable, from the database afterwards.
func (s *Server) handleTaskEntries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.tasks.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}

	if rec.Status == types.StatusComplete && s.files != nil {
		entries, err := s.files.ListEntries(r.Context(), id, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []types.LogEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	entries := rec.Entries
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []types.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListLogFiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	files, err := s.files.ListLogFiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]LogFileView, 0, len(files))
	for _, f := range files {
		n, err := s.files.CountEntries(r.Context(), f.LogFileID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views = append(views, LogFileView{LogFileRecord: f, Entries: n})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleActiveLogFile(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	rec, err := s.files.GetActiveLogFile(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no log files")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	id := mux.Vars(r)["id"]
	err := s.files.SetActiveLogFile(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "log file not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "log_file_id": id})
}

func (s *Server) handleDeleteLogFile(w http.ResponseWriter, r *http.Request) {
	if !s.requireFiles(w) {
		return
	}
	id := mux.Vars(r)["id"]
	n, err := s.files.DeleteLogFileData(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "log file not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "deleted_log_entries": n})
}

func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.patterns.Snapshot().Taxonomy())
}

func (s *Server) handlePutPatterns(w http.ResponseWriter, r *http.Request) {
	var t crawler.Taxonomy
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(t.Providers) == 0 {
		writeError(w, http.StatusBadRequest, "at least one provider is required")
		return
	}
	if err := s.patterns.Update(t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.patterns.Snapshot().Taxonomy())
}

func (s *Server) handleResetPatterns(w http.ResponseWriter, r *http.Request) {
	if err := s.patterns.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.patterns.Snapshot().Taxonomy())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireFiles(w http.ResponseWriter) bool {
	if s.files == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
