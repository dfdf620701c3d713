package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexstrack/claude-todo/services/tasks/internal/cache"
	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	"github.com/alexstrack/claude-todo/services/tasks/internal/repository"
	"github.com/alexstrack/claude-todo/services/tasks/internal/storage/storagetest"
)

func ptr[T any](v T) *T { return &v }

// countingOpener считает открытые и закрытые репозитории
type countingOpener struct {
	inner  repository.Opener
	opened int
	closed int
	err    error
}

type countingRepo struct {
	repository.TaskRepository
	owner *countingOpener
}

func (r countingRepo) Close() error {
	r.owner.closed++
	return r.TaskRepository.Close()
}

func (o *countingOpener) Open(ctx context.Context) (repository.TaskRepository, error) {
	if o.err != nil {
		return nil, o.err
	}
	repo, err := o.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	o.opened++
	return countingRepo{TaskRepository: repo, owner: o}, nil
}

func newService(t *testing.T) (*TaskService, *countingOpener, *miniredis.Miniredis) {
	t.Helper()
	opener := &countingOpener{inner: repository.NewFactory(storagetest.NewSQLite(t))}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := storagetest.QuietLogger()
	return NewTaskService(opener, cache.NewRedisCache(client, time.Minute, logger), logger), opener, mr
}

func TestTaskService_ConnectionReleasedOnEveryPath(t *testing.T) {
	svc, opener, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)
	_, err = svc.Update(ctx, 404, models.TaskPatch{Status: ptr(true)})
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, 404), models.ErrTaskNotFound)
	_, err = svc.List(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.ID))

	assert.Equal(t, 5, opener.opened)
	assert.Equal(t, opener.opened, opener.closed)
}

func TestTaskService_EmptyPatchNeverTouchesStorage(t *testing.T) {
	svc, opener, _ := newService(t)

	_, err := svc.Update(context.Background(), 1, models.TaskPatch{})
	assert.ErrorIs(t, err, models.ErrNoFieldsToUpdate)
	assert.Zero(t, opener.opened)
}

func TestTaskService_AcquireFailure(t *testing.T) {
	svc, opener, _ := newService(t)
	opener.err = &models.StorageError{Op: "acquire", Err: errors.New("pool exhausted")}

	_, err := svc.List(context.Background())
	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "acquire", se.Op)
}

func TestTaskService_GetServedFromCache(t *testing.T) {
	svc, opener, mr := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.Key(created.ID)))

	before := opener.opened
	got, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, before, opener.opened)

	// промах кэша идёт в хранилище и снова заполняет кэш
	mr.Del(cache.Key(created.ID))
	got, err = svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, before+1, opener.opened)
	assert.True(t, mr.Exists(cache.Key(created.ID)))
}

func TestTaskService_MutationsKeepCacheFresh(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, created.ID, models.TaskPatch{Status: ptr(true)})
	require.NoError(t, err)
	got, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Status)
	assert.Equal(t, created.Description, got.Description)
	assert.Equal(t, created.DueDate, got.DueDate)

	toggled, err := svc.ToggleStatus(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Status)
	got, err = svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.Status)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.True(t, mr.Exists(cache.Key(created.ID)))
	_, err = svc.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTaskService_NilCacheFallsBackToNoop(t *testing.T) {
	svc := NewTaskService(repository.NewFactory(storagetest.NewSQLite(t)), nil, storagetest.QuietLogger())
	ctx := context.Background()

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)
	got, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	page, err := svc.ListPage(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

// pausingRepo останавливает Get после чтения строки, пока тест не разрешит продолжить
type pausingRepo struct {
	repository.TaskRepository
	read   chan<- struct{}
	resume <-chan struct{}
}

func (r pausingRepo) Get(ctx context.Context, id int64) (models.Task, error) {
	t, err := r.TaskRepository.Get(ctx, id)
	r.read <- struct{}{}
	<-r.resume
	return t, err
}

type pausingOpener struct {
	inner  repository.Opener
	read   chan struct{}
	resume chan struct{}
}

func (o *pausingOpener) Open(ctx context.Context) (repository.TaskRepository, error) {
	repo, err := o.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	return pausingRepo{TaskRepository: repo, read: o.read, resume: o.resume}, nil
}

func TestTaskService_ReadBeforeDeleteDoesNotRestoreTask(t *testing.T) {
	opener := &pausingOpener{
		inner:  repository.NewFactory(storagetest.NewSQLite(t)),
		read:   make(chan struct{}),
		resume: make(chan struct{}),
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := storagetest.QuietLogger()
	svc := NewTaskService(opener, cache.NewRedisCache(client, time.Minute, logger), logger)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)
	mr.Del(cache.Key(created.ID))

	done := make(chan error, 1)
	go func() {
		_, err := svc.GetByID(ctx, created.ID)
		done <- err
	}()

	// чтение уже прошло, запись в кэш ещё впереди
	<-opener.read
	require.NoError(t, svc.Delete(ctx, created.ID))
	close(opener.resume)
	require.NoError(t, <-done)

	_, err = svc.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTaskService_DeleteFailsWhenCacheCannotRecordIt(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)
	mr.Close()

	err = svc.Delete(ctx, created.ID)
	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "evict", se.Op)
	assert.Equal(t, created.ID, se.ID)
}

func TestTaskService_MissingIDIsNotMarkedDeleted(t *testing.T) {
	svc, _, mr := newService(t)
	ctx := context.Background()

	// id 1 ещё не выдан: промах не должен заблокировать будущую задачу
	assert.ErrorIs(t, svc.Delete(ctx, 1), models.ErrTaskNotFound)
	_, err := svc.GetByID(ctx, 1)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
	assert.False(t, mr.Exists(cache.Key(1)))

	created, err := svc.Create(ctx, models.NewTask{Description: "Buy milk", DueDate: "2024-01-15"})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)
	got, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}
