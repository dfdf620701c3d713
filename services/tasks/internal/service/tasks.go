package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/alexstrack/claude-todo/services/tasks/internal/cache"
	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	"github.com/alexstrack/claude-todo/services/tasks/internal/repository"
)

// TaskService открывает репозиторий на отдельном соединении для каждого вызова
// и гарантированно освобождает его, в том числе при ошибке.
type TaskService struct {
	repos  repository.Opener
	cache  cache.TaskCache
	logger logrus.FieldLogger
}

func NewTaskService(repos repository.Opener, c cache.TaskCache, logger logrus.FieldLogger) *TaskService {
	if c == nil {
		c = cache.Noop{}
	}
	return &TaskService{
		repos:  repos,
		cache:  c,
		logger: logger.WithField("component", "task_service"),
	}
}

func (s *TaskService) withRepo(ctx context.Context, fn func(repo repository.TaskRepository) error) error {
	repo, err := s.repos.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to release connection")
		}
	}()
	return fn(repo)
}

func (s *TaskService) List(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		var err error
		tasks, err = repo.List(ctx)
		return err
	})
	return tasks, err
}

func (s *TaskService) ListPage(ctx context.Context, page, perPage int) (models.Page, error) {
	var result models.Page
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		var err error
		result, err = repo.ListPage(ctx, page, perPage)
		return err
	})
	return result, err
}

func (s *TaskService) GetByID(ctx context.Context, id int64) (models.Task, error) {
	if id <= 0 {
		return models.Task{}, models.ErrTaskNotFound
	}
	switch t, res := s.cache.Get(ctx, id); res {
	case cache.Hit:
		return t, nil
	case cache.Gone:
		return models.Task{}, models.ErrTaskNotFound
	}

	var task models.Task
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		var err error
		task, err = repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	s.cache.Refresh(ctx, task)
	return task, nil
}

func (s *TaskService) Create(ctx context.Context, nt models.NewTask) (models.Task, error) {
	var created models.Task
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		var err error
		created, err = repo.Create(ctx, nt)
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	s.cache.Set(ctx, created)
	return created, nil
}

func (s *TaskService) Update(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error) {
	// пустой патч отклоняется до обращения к хранилищу
	if patch.IsEmpty() {
		return models.Task{}, models.ErrNoFieldsToUpdate
	}

	var updated models.Task
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		var err error
		updated, err = repo.Update(ctx, id, patch)
		return err
	})
	return s.refresh(ctx, id, updated, err)
}

func (s *TaskService) ToggleStatus(ctx context.Context, id int64) (models.Task, error) {
	var updated models.Task
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		var err error
		updated, err = repo.ToggleStatus(ctx, id)
		return err
	})
	return s.refresh(ctx, id, updated, err)
}

func (s *TaskService) Delete(ctx context.Context, id int64) error {
	err := s.withRepo(ctx, func(repo repository.TaskRepository) error {
		return repo.Delete(ctx, id)
	})
	switch {
	case err == nil:
		if cerr := s.cache.Delete(ctx, id); cerr != nil {
			s.logger.WithError(cerr).WithField("task_id", id).Error("task deleted but cache not updated")
			return &models.StorageError{Op: "evict", ID: id, Err: cerr}
		}
	case errors.Is(err, models.ErrTaskNotFound):
		s.cache.Evict(ctx, id)
	}
	return err
}

// refresh обновляет кэш после изменения; запись исчезнувшей задачи убирает
func (s *TaskService) refresh(ctx context.Context, id int64, t models.Task, err error) (models.Task, error) {
	switch {
	case err == nil:
		s.cache.Refresh(ctx, t)
		return t, nil
	case errors.Is(err, models.ErrTaskNotFound):
		s.cache.Evict(ctx, id)
	}
	return models.Task{}, err
}
