package repository

import (
	"context"

	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	"github.com/alexstrack/claude-todo/services/tasks/internal/storage"
)

type Factory struct {
	db *storage.DB
}

func NewFactory(db *storage.DB) *Factory {
	return &Factory{db: db}
}

func (f *Factory) Open(ctx context.Context) (TaskRepository, error) {
	conn, err := f.db.Acquire(ctx)
	if err != nil {
		storageErrors.WithLabelValues("acquire").Inc()
		return nil, &models.StorageError{Op: "acquire", Err: err}
	}
	return NewSQLTaskRepository(conn), nil
}
