package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/hydrofind/hydrofind/artifact"
	"github.com/hydrofind/hydrofind/task"
	"github.com/hydrofind/hydrofind/taskstore"
)

// --- POST /api/ ---

type submitRequest struct {
	Query    string            `json:"query"`
	Text     string            `json:"text"`
	Priority *int              `json:"priority"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSubmit(w, r)
	if !ok {
		return
	}

	sub, err := s.producer.SubmitSingle(r.Context(), req.Query, priorityOf(req), req.Metadata)
	if err != nil {
		s.submitError(w, err)
		return
	}

	data := map[string]any{"task_id": sub.TaskID, "status": sub.Status}
	if sub.CacheHit {
		data["source"] = task.SourceCache
	}
	s.writeSuccess(w, http.StatusOK, sub.TaskID, data)
}

// --- POST /api/batch ---

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSubmit(w, r)
	if !ok {
		return
	}

	sub, err := s.producer.SubmitBatch(r.Context(), req.Text, priorityOf(req), req.Metadata)
	if err != nil {
		s.submitError(w, err)
		return
	}

	s.writeSuccess(w, http.StatusOK, sub.TaskID, map[string]any{
		"task_id": sub.TaskID,
		"status":  sub.Status,
		"type":    task.KindBatch,
	})
}

func (s *Server) decodeSubmit(w http.ResponseWriter, r *http.Request) (*submitRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return nil, false
	}
	return &req, true
}

func (s *Server) submitError(w http.ResponseWriter, err error) {
	if errors.Is(err, task.ErrInvalid) {
		s.writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	s.logger.Error("Submission failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "failed to enqueue task", "")
}

func priorityOf(req *submitRequest) int {
	if req.Priority == nil {
		return task.DefaultPriority
	}
	return *req.Priority
}

// --- GET /api/task/{id} ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	env, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		s.taskError(w, id, err)
		return
	}

	// Reclamation: a task stuck in processing past the deadline becomes
	// timeout. This read path is the only place that transition happens.
	age := env.Age(s.now())
	if env.Status == task.StatusProcessing && age > s.cfg.ProcessingTimeout.Seconds() {
		reclaimed, err := s.store.MarkTimeout(r.Context(), id)
		if err != nil {
			s.taskError(w, id, err)
			return
		}
		s.logger.Info("Reclaimed stuck task", "task_id", id, "age_seconds", age)
		env = reclaimed
	}

	data := map[string]any{
		"task_id":     env.TaskID,
		"status":      env.Status,
		"type":        env.Kind,
		"age_seconds": age,
	}
	if env.Result != nil {
		data["result"] = env.Result
	}
	if env.ErrorMessage != "" {
		data["error_message"] = env.ErrorMessage
		data["error_kind"] = env.ErrorKind
	}
	s.writeSuccess(w, http.StatusOK, id, data)
}

// --- POST /api/task/{id}/cancel ---

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	env, err := s.store.Cancel(r.Context(), id)
	if err != nil {
		s.taskError(w, id, err)
		return
	}
	s.writeSuccess(w, http.StatusOK, id, map[string]any{
		"task_id": env.TaskID,
		"status":  env.Status,
	})
}

// --- GET /api/download/{id} ---

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}

	env, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		s.taskError(w, id, err)
		return
	}
	if env.Status != task.StatusCompleted {
		s.writeError(w, http.StatusBadRequest, "task is not completed",
			fmt.Sprintf("status is %s", env.Status))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results_%s.xlsx"`, id))

	// The worker's prebuilt file is authoritative when still on disk;
	// otherwise the result is re-rendered on the fly.
	if path, err := s.store.GetArtifactPath(r.Context(), id); err == nil {
		if f, err := os.Open(path); err == nil {
			defer f.Close()
			if _, err := io.Copy(w, f); err != nil {
				s.logger.Error("Failed to stream artifact file", "task_id", id, "path", path, "error", err)
			}
			return
		}
		s.logger.Warn("Recorded artifact missing, re-rendering", "task_id", id, "path", path)
	}

	if err := artifact.Write(w, env.Result); err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Error("Failed to stream artifact", "task_id", id, "error", err)
	}
}

// --- GET /api/health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cache := s.store.CheckHealth(r.Context())
	brokerAlive := s.broker != nil && s.broker.Healthy()

	status := "ok"
	if !cache.Alive || !brokerAlive {
		status = "degraded"
	}
	s.writeSuccess(w, http.StatusOK, "", map[string]any{
		"status": status,
		"services": map[string]bool{
			"cache":  cache.Alive,
			"broker": brokerAlive,
		},
	})
}

// --- helpers ---

// taskID validates the path identifier as a well-formed UUID.
func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed task identifier", "")
		return "", false
	}
	return id, true
}

func (s *Server) taskError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, taskstore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found", "")
		return
	}
	s.logger.Error("Task store error", "task_id", id, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error", "")
}
