package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexstrack/claude-todo/services/tasks/internal/cache"
	"github.com/alexstrack/claude-todo/services/tasks/internal/dto"
	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	"github.com/alexstrack/claude-todo/services/tasks/internal/repository"
	"github.com/alexstrack/claude-todo/services/tasks/internal/service"
	"github.com/alexstrack/claude-todo/services/tasks/internal/storage/storagetest"
)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	logger := storagetest.QuietLogger()
	db := storagetest.NewSQLite(t)
	svc := service.NewTaskService(repository.NewFactory(db), cache.Noop{}, logger)

	mux := http.NewServeMux()
	NewTaskHandler(svc, logger).Register(mux, "/api")
	mux.Handle("GET /healthz", HealthHandler(db, logger))
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTaskAPI_Lifecycle(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/api/tasks", `{"description":"Buy milk","due_date":"2024-01-15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	created := decode[dto.Task](t, rec)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "Buy milk", created.Description)
	assert.Equal(t, "2024-01-15", created.DueDate)
	assert.False(t, created.Status)
	assert.NotEmpty(t, created.CreatedAt)

	// ровно пять полей, status булев
	raw := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/tasks/1", ""))
	assert.Len(t, raw, 5)
	assert.Equal(t, false, raw["status"])

	rec = do(t, h, http.MethodPut, "/api/tasks/1", `{"status":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[dto.Task](t, rec)
	assert.True(t, updated.Status)
	assert.Equal(t, "Buy milk", updated.Description)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	rec = do(t, h, http.MethodPatch, "/api/tasks/1", `{"description":"Buy oat milk"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Buy oat milk", decode[dto.Task](t, rec).Description)

	list := decode[[]dto.Task](t, do(t, h, http.MethodGet, "/api/tasks", ""))
	require.Len(t, list, 1)
	assert.True(t, list[0].Status)

	rec = do(t, h, http.MethodDelete, "/api/tasks/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/tasks/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Task not found"}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/tasks/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskAPI_ListEmptyIsArray(t *testing.T) {
	rec := do(t, newServer(t), http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestTaskAPI_CreateValidation(t *testing.T) {
	h := newServer(t)

	tests := []struct {
		name      string
		body      string
		badFields []string
	}{
		{name: "missing due date", body: `{"description":"Buy milk"}`, badFields: []string{"due_date"}},
		{name: "missing description", body: `{"due_date":"2024-01-15"}`, badFields: []string{"description"}},
		{name: "empty body", body: "", badFields: []string{"description", "due_date"}},
		{name: "bad date", body: `{"description":"x","due_date":"2024-13-01"}`, badFields: []string{"due_date"}},
		{name: "status not bool", body: `{"description":"x","due_date":"2024-01-15","status":"yes"}`, badFields: []string{"status"}},
		{name: "malformed json", body: `{"description":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/tasks", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[dto.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Message)
			for _, f := range tt.badFields {
				assert.Contains(t, resp.Errors, f)
			}
		})
	}

	// ничего не создано
	assert.JSONEq(t, `[]`, do(t, h, http.MethodGet, "/api/tasks", "").Body.String())
}

func TestTaskAPI_UpdateErrors(t *testing.T) {
	h := newServer(t)
	require.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/api/tasks", `{"description":"a","due_date":"2024-01-15"}`).Code)

	tests := []struct {
		name    string
		path    string
		body    string
		code    int
		message string
	}{
		{name: "empty payload on existing", path: "/api/tasks/1", body: `{}`, code: http.StatusBadRequest, message: "No fields to update"},
		{name: "empty payload on missing", path: "/api/tasks/999", body: `{}`, code: http.StatusBadRequest, message: "No fields to update"},
		{name: "missing task", path: "/api/tasks/999", body: `{"status":true}`, code: http.StatusNotFound, message: "Task not found"},
		{name: "non-numeric id", path: "/api/tasks/abc", body: `{"status":true}`, code: http.StatusNotFound, message: "Task not found"},
		{name: "negative id", path: "/api/tasks/-1", body: `{"status":true}`, code: http.StatusNotFound, message: "Task not found"},
		{name: "empty description", path: "/api/tasks/1", body: `{"description":""}`, code: http.StatusBadRequest, message: "Validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.message, decode[dto.ErrorResponse](t, rec).Message)
		})
	}

	// задача осталась нетронутой
	task := decode[dto.Task](t, do(t, h, http.MethodGet, "/api/tasks/1", ""))
	assert.Equal(t, "a", task.Description)
	assert.False(t, task.Status)
}

type failingService struct{}

func (failingService) List(context.Context) ([]models.Task, error) {
	return nil, &models.StorageError{Op: "list", Err: errors.New("database is locked")}
}
func (failingService) GetByID(context.Context, int64) (models.Task, error) {
	return models.Task{}, errors.New("unexpected")
}
func (failingService) Create(context.Context, models.NewTask) (models.Task, error) {
	return models.Task{}, &models.StorageError{Op: "create", Err: errors.New("disk full")}
}
func (failingService) Update(_ context.Context, id int64, _ models.TaskPatch) (models.Task, error) {
	return models.Task{}, &models.StorageError{Op: "update", ID: id, Err: errors.New("database is locked")}
}
func (failingService) Delete(_ context.Context, id int64) error {
	return &models.StorageError{Op: "evict", ID: id, Err: errors.New("connection refused")}
}

func TestTaskAPI_StorageFailures(t *testing.T) {
	mux := http.NewServeMux()
	NewTaskHandler(failingService{}, storagetest.QuietLogger()).Register(mux, "/api")

	rec := do(t, mux, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[dto.ErrorResponse](t, rec).Message, "database is locked")

	rec = do(t, mux, http.MethodPost, "/api/tasks", `{"description":"a","due_date":"2024-01-15"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[dto.ErrorResponse](t, rec).Message, "disk full")

	rec = do(t, mux, http.MethodGet, "/api/tasks/1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[dto.ErrorResponse](t, rec).Message)

	rec = do(t, mux, http.MethodPut, "/api/tasks/3", `{"status":true}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "update task 3: database is locked", decode[dto.ErrorResponse](t, rec).Message)

	rec = do(t, mux, http.MethodDelete, "/api/tasks/3", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "evict task 3: connection refused", decode[dto.ErrorResponse](t, rec).Message)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	rec := do(t, newServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := HealthHandler(pingerFunc(func(context.Context) error { return errors.New("refused") }), storagetest.QuietLogger())
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
