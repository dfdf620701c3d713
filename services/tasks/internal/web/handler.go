// Package web отдаёт HTML-страницу со списком задач и обрабатывает её формы.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alexstrack/claude-todo/services/tasks/internal/dto"
	"github.com/alexstrack/claude-todo/services/tasks/internal/middleware"
	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	sharedmw "github.com/alexstrack/claude-todo/shared/middleware"
)

//go:embed templates/index.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

const displayDateLayout = "Jan 02, 2006"

type TaskService interface {
	ListPage(ctx context.Context, page, perPage int) (models.Page, error)
	Create(ctx context.Context, task models.NewTask) (models.Task, error)
	ToggleStatus(ctx context.Context, id int64) (models.Task, error)
	Delete(ctx context.Context, id int64) error
}

type Handler struct {
	tasks    TaskService
	pageSize int
	logger   *logrus.Logger
	now      func() time.Time
	tmpl     *template.Template
	static   http.Handler
}

func NewHandler(ts TaskService, pageSize int, logger *logrus.Logger) *Handler {
	h := &Handler{
		tasks:    ts,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
	}
	h.tmpl = template.Must(
		template.New("index.html").
			Funcs(template.FuncMap{
				"formatDate": formatDate,
				"isOverdue":  h.isOverdue,
			}).
			ParseFS(templatesFS, "templates/index.html"),
	)
	h.static = http.StripPrefix("/static/", http.FileServerFS(mustSub(staticFS, "static")))
	return h
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Register вешает страницу и формы на mux; формы идут через CSRF-проверку
func (h *Handler) Register(mux *http.ServeMux) {
	csrf := func(fn http.HandlerFunc) http.Handler { return middleware.CSRFMiddleware(fn) }

	mux.Handle("GET /{$}", csrf(h.Index))
	mux.Handle("POST /add_task", csrf(h.AddTask))
	mux.Handle("POST /toggle_task/{id}", csrf(h.ToggleTask))
	mux.Handle("POST /delete_task/{id}", csrf(h.DeleteTask))
	mux.Handle("GET /static/", h.static)
}

type indexData struct {
	Page      models.Page
	PrevPage  int
	NextPage  int
	CSRFToken string
}

// Index GET /?page=N: задачи по сроку, постранично
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "Index")

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	result, err := h.tasks.ListPage(r.Context(), page, h.pageSize)
	if err != nil {
		logEntry.WithError(err).Error("failed to list tasks")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Page:      result,
		PrevPage:  result.Number - 1,
		NextPage:  result.Number + 1,
		CSRFToken: middleware.CSRFToken(r.Context()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		logEntry.WithError(err).Error("failed to render index")
	}
}

// AddTask POST /add_task
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "AddTask")

	req := dto.CreateTaskRequest{
		Description: r.PostFormValue("description"),
		DueDate:     r.PostFormValue("due_date"),
	}
	if req.Description == "" || req.DueDate == "" {
		logEntry.Warn("description or due date missing")
		writeJSONError(w, http.StatusBadRequest, "Description and due date are required")
		return
	}
	if err := req.Validate(); err != nil {
		logEntry.WithError(err).Warn("invalid task form")
		writeJSONError(w, http.StatusBadRequest, "Due date must be in YYYY-MM-DD format")
		return
	}

	task, err := h.tasks.Create(r.Context(), req.ToNewTask())
	if err != nil {
		logEntry.WithError(err).Error("failed to create task")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	logEntry.WithField("task_id", task.ID).Info("task created from form")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ToggleTask POST /toggle_task/{id}
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "ToggleTask").WithField("task_id", r.PathValue("id"))

	id, ok := parseID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	task, err := h.tasks.ToggleStatus(r.Context(), id)
	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		logEntry.Warn("task not found")
		http.NotFound(w, r)
		return
	case err != nil:
		logEntry.WithError(err).Error("failed to toggle task")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	logEntry.WithField("status", task.Status).Info("task status toggled")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DeleteTask POST /delete_task/{id}; отсутствующая задача не ошибка
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	logEntry := h.entry(r, "DeleteTask").WithField("task_id", r.PathValue("id"))

	id, ok := parseID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	err := h.tasks.Delete(r.Context(), id)
	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		logEntry.Debug("task already gone")
	case err != nil:
		logEntry.WithError(err).Error("failed to delete task")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	default:
		logEntry.Info("task deleted from form")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) entry(r *http.Request, handler string) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"component":  "web_handler",
		"handler":    handler,
		"request_id": sharedmw.GetRequestID(r.Context()),
	})
}

func formatDate(date string) string {
	t, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format(displayDateLayout)
}

// isOverdue срок раньше сегодняшнего дня и задача не выполнена
func (h *Handler) isOverdue(date string, done bool) bool {
	if done {
		return false
	}
	due, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return false
	}
	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return due.Before(today)
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
