// Package dto описывает тела запросов и ответов API задач: проверку входных
// данных и единообразное представление задачи на выходе.
package dto

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// в ошибках используем имена полей из json
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateTaskRequest тело POST /tasks
type CreateTaskRequest struct {
	Description string `json:"description" validate:"required"`
	DueDate     string `json:"due_date" validate:"required,datetime=2006-01-02"`
	Status      *bool  `json:"status"`
}

func (r CreateTaskRequest) Validate() error {
	return validateStruct(r)
}

func (r CreateTaskRequest) ToNewTask() models.NewTask {
	nt := models.NewTask{Description: r.Description, DueDate: r.DueDate}
	if r.Status != nil {
		nt.Status = *r.Status
	}
	return nt
}

// UpdateTaskRequest тело PUT /tasks/{id}: все поля необязательны, но хотя бы одно нужно
type UpdateTaskRequest struct {
	Description *string `json:"description" validate:"omitnil,min=1"`
	DueDate     *string `json:"due_date" validate:"omitnil,datetime=2006-01-02"`
	Status      *bool   `json:"status"`
}

func (r UpdateTaskRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.ToPatch().IsEmpty() {
		return models.ErrNoFieldsToUpdate
	}
	return nil
}

func (r UpdateTaskRequest) ToPatch() models.TaskPatch {
	return models.TaskPatch{
		Description: r.Description,
		DueDate:     r.DueDate,
		Status:      r.Status,
	}
}

// Task ровно пять полей, status всегда bool
type Task struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Status      bool   `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// FromTask единственная функция формирования ответа: и для новых, и для прочитанных задач
func FromTask(t models.Task) Task {
	return Task{
		ID:          t.ID,
		Description: t.Description,
		DueDate:     t.DueDate,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	}
}

func FromTasks(tasks []models.Task) []Task {
	result := make([]Task, len(tasks))
	for i, t := range tasks {
		result[i] = FromTask(t)
	}
	return result
}

type ErrorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewValidationError(err.Error())
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &models.ValidationError{Message: "Validation failed", Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Missing data for required field."
	case "min":
		return "Must not be empty."
	case "datetime":
		return "Not a valid date, expected YYYY-MM-DD."
	default:
		return "Invalid value."
	}
}
