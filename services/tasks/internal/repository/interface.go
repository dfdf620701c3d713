package repository

import (
	"context"

	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
)

// TaskRepository привязан к одному соединению и живёт в пределах одного запроса
type TaskRepository interface {
	List(ctx context.Context) ([]models.Task, error)
	ListPage(ctx context.Context, page, perPage int) (models.Page, error)
	Get(ctx context.Context, id int64) (models.Task, error)
	Create(ctx context.Context, task models.NewTask) (models.Task, error)
	Update(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error)
	ToggleStatus(ctx context.Context, id int64) (models.Task, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}

// Opener выдаёт репозиторий на новом соединении
type Opener interface {
	Open(ctx context.Context) (TaskRepository, error)
}
