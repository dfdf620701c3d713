package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/alexstrack/claude-todo/services/tasks/internal/dto"
	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	"github.com/alexstrack/claude-todo/shared/middleware"
)

type TaskService interface {
	List(ctx context.Context) ([]models.Task, error)
	GetByID(ctx context.Context, id int64) (models.Task, error)
	Create(ctx context.Context, task models.NewTask) (models.Task, error)
	Update(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error)
	Delete(ctx context.Context, id int64) error
}

type TaskHandler struct {
	taskService TaskService
	logger      *logrus.Logger
}

func NewTaskHandler(ts TaskService, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: ts,
		logger:      logger,
	}
}

// Register вешает JSON API на mux под префиксом (например "/api")
func (h *TaskHandler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/tasks", h.ListTasks)
	mux.HandleFunc("POST "+prefix+"/tasks", h.CreateTask)
	mux.HandleFunc("GET "+prefix+"/tasks/{id}", h.GetTask)
	mux.HandleFunc("PUT "+prefix+"/tasks/{id}", h.UpdateTask)
	mux.HandleFunc("PATCH "+prefix+"/tasks/{id}", h.UpdateTask)
	mux.HandleFunc("DELETE "+prefix+"/tasks/{id}", h.DeleteTask)
}

func (h *TaskHandler) entry(r *http.Request, handler string) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"component":  "http_handler",
		"handler":    handler,
		"request_id": middleware.GetRequestID(r.Context()),
	})
}

// ListTasks обрабатывает GET /tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "ListTasks")

	tasks, err := h.taskService.List(r.Context())
	if err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	logEntry.WithField("count", len(tasks)).Debug("tasks listed")
	writeJSON(w, http.StatusOK, dto.FromTasks(tasks))
}

// CreateTask обрабатывает POST /tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "CreateTask")

	var req dto.CreateTaskRequest
	if err := dto.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, logEntry, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	task, err := h.taskService.Create(r.Context(), req.ToNewTask())
	if err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	logEntry.WithField("task_id", task.ID).Info("task created successfully")
	writeJSON(w, http.StatusCreated, dto.FromTask(task))
}

// GetTask обрабатывает GET /tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "GetTask")

	id, ok := parseID(r)
	if !ok {
		writeServiceError(w, logEntry.WithField("task_id", r.PathValue("id")), models.ErrTaskNotFound)
		return
	}
	logEntry = logEntry.WithField("task_id", id)

	task, err := h.taskService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	logEntry.Debug("task retrieved")
	writeJSON(w, http.StatusOK, dto.FromTask(task))
}

// UpdateTask обрабатывает PUT и PATCH /tasks/{id}: меняются только переданные поля
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "UpdateTask").WithField("task_id", r.PathValue("id"))

	var req dto.UpdateTaskRequest
	if err := dto.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, logEntry, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	id, ok := parseID(r)
	if !ok {
		writeServiceError(w, logEntry, models.ErrTaskNotFound)
		return
	}

	task, err := h.taskService.Update(r.Context(), id, req.ToPatch())
	if err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	logEntry.Info("task updated successfully")
	writeJSON(w, http.StatusOK, dto.FromTask(task))
}

// DeleteTask обрабатывает DELETE /tasks/{id}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "DeleteTask").WithField("task_id", r.PathValue("id"))

	id, ok := parseID(r)
	if !ok {
		writeServiceError(w, logEntry, models.ErrTaskNotFound)
		return
	}

	if err := h.taskService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, logEntry, err)
		return
	}

	logEntry.Info("task deleted successfully")
	w.WriteHeader(http.StatusNoContent)
}

// parseID id только положительное целое; всё остальное -> 404
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeServiceError единственное место сопоставления ошибок со статусами
func writeServiceError(w http.ResponseWriter, logEntry *logrus.Entry, err error) {
	var (
		verr *models.ValidationError
		serr *models.StorageError
	)
	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		logEntry.Warn("task not found")
		writeError(w, http.StatusNotFound, dto.ErrorResponse{Message: models.ErrTaskNotFound.Error()})
	case errors.Is(err, models.ErrNoFieldsToUpdate):
		logEntry.Warn("no fields to update")
		writeError(w, http.StatusBadRequest, dto.ErrorResponse{Message: models.ErrNoFieldsToUpdate.Error()})
	case errors.As(err, &verr):
		logEntry.WithError(err).Warn("invalid request")
		writeError(w, http.StatusBadRequest, dto.ErrorResponse{Message: verr.Message, Errors: verr.Fields})
	case errors.As(err, &serr):
		logEntry.WithError(err).WithField("op", serr.Op).Error("storage operation failed")
		writeError(w, http.StatusInternalServerError, dto.ErrorResponse{Message: serr.Error()})
	default:
		logEntry.WithError(err).Error("unexpected error")
		writeError(w, http.StatusInternalServerError, dto.ErrorResponse{Message: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body dto.ErrorResponse) {
	writeJSON(w, status, body)
}
