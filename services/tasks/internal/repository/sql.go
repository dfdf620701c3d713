package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
	"github.com/alexstrack/claude-todo/services/tasks/internal/storage"
)

const DefaultPageSize = 10

var taskColumns = []string{"id", "description", "due_date", "status", "created_at"}

var returningTask = "RETURNING " + strings.Join(taskColumns, ", ")

var storageErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tasks_storage_errors_total",
		Help: "Total number of failed datastore operations",
	},
	[]string{"op"},
)

// statusFlag единственное место преобразования status: bool <-> INTEGER 0/1
type statusFlag bool

func (s statusFlag) Value() (driver.Value, error) {
	if s {
		return int64(1), nil
	}
	return int64(0), nil
}

func (s *statusFlag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = false
	case bool:
		*s = statusFlag(v)
	case int64:
		*s = v != 0
	case []byte:
		return s.Scan(string(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		*s = n != 0
	default:
		return fmt.Errorf("status: unsupported type %T", src)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask единая точка преобразования строки таблицы в models.Task
func scanTask(row rowScanner) (models.Task, error) {
	var (
		t      models.Task
		status statusFlag
	)
	if err := row.Scan(&t.ID, &t.Description, &t.DueDate, &status, &t.CreatedAt); err != nil {
		return models.Task{}, err
	}
	t.Status = bool(status)
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}

// patchColumns собирает SET только из известных колонок; имена никогда не берутся из запроса
func patchColumns(p models.TaskPatch) map[string]any {
	set := make(map[string]any, 3)
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.DueDate != nil {
		set["due_date"] = *p.DueDate
	}
	if p.Status != nil {
		set["status"] = statusFlag(*p.Status)
	}
	return set
}

func placeholder(d storage.Dialect) sq.PlaceholderFormat {
	if d == storage.DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

type SQLTaskRepository struct {
	conn *storage.Conn
	sb   sq.StatementBuilderType
}

func NewSQLTaskRepository(conn *storage.Conn) *SQLTaskRepository {
	return &SQLTaskRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(placeholder(conn.Dialect())),
	}
}

func (r *SQLTaskRepository) Close() error {
	return r.conn.Close()
}

func (r *SQLTaskRepository) List(ctx context.Context) ([]models.Task, error) {
	query, args, err := r.sb.Select(taskColumns...).
		From("tasks").
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fail("list", 0, err)
	}

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fail("list", 0, err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fail("list", 0, err)
	}
	return tasks, nil
}

func (r *SQLTaskRepository) ListPage(ctx context.Context, page, perPage int) (models.Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPageSize
	}
	result := models.Page{Number: page, PerPage: perPage}

	query, args, err := r.sb.Select("COUNT(*)").From("tasks").ToSql()
	if err != nil {
		return result, fail("count", 0, err)
	}
	if err := r.conn.QueryRowContext(ctx, query, args...).Scan(&result.Total); err != nil {
		return result, fail("count", 0, err)
	}
	result.TotalPages = (result.Total + perPage - 1) / perPage

	// за последней страницей пусто; заодно offset не переполняется
	if page > result.TotalPages {
		result.Tasks = make([]models.Task, 0)
		return result, nil
	}

	query, args, err = r.sb.Select(taskColumns...).
		From("tasks").
		OrderBy("due_date ASC", "id ASC").
		Limit(uint64(perPage)).
		Offset(uint64((page - 1) * perPage)).
		ToSql()
	if err != nil {
		return result, fail("list", 0, err)
	}
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return result, fail("list", 0, err)
	}
	if result.Tasks, err = scanTasks(rows); err != nil {
		return result, fail("list", 0, err)
	}
	return result, nil
}

func (r *SQLTaskRepository) Get(ctx context.Context, id int64) (models.Task, error) {
	if id <= 0 {
		return models.Task{}, models.ErrTaskNotFound
	}
	t, err := r.selectByID(ctx, r.conn, id)
	if err != nil {
		return models.Task{}, fail("get", id, err)
	}
	return t, nil
}

func (r *SQLTaskRepository) Create(ctx context.Context, nt models.NewTask) (models.Task, error) {
	var created models.Task
	err := r.conn.InTx(ctx, func(q storage.Querier) error {
		query, args, err := r.sb.Insert("tasks").
			Columns("description", "due_date", "status").
			Values(nt.Description, nt.DueDate, statusFlag(nt.Status)).
			Suffix(returningTask).
			ToSql()
		if err != nil {
			return err
		}
		created, err = scanTask(q.QueryRowContext(ctx, query, args...))
		return err
	})
	if err != nil {
		return models.Task{}, fail("create", 0, err)
	}
	return created, nil
}

func (r *SQLTaskRepository) Update(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error) {
	if patch.IsEmpty() {
		return models.Task{}, models.ErrNoFieldsToUpdate
	}
	if id <= 0 {
		return models.Task{}, models.ErrTaskNotFound
	}

	var updated models.Task
	err := r.conn.InTx(ctx, func(q storage.Querier) error {
		if err := r.mustExist(ctx, q, id); err != nil {
			return err
		}
		var err error
		updated, err = r.updateReturning(ctx, q, id, patchColumns(patch))
		return err
	})
	if err != nil {
		return models.Task{}, fail("update", id, err)
	}
	return updated, nil
}

func (r *SQLTaskRepository) ToggleStatus(ctx context.Context, id int64) (models.Task, error) {
	if id <= 0 {
		return models.Task{}, models.ErrTaskNotFound
	}

	var updated models.Task
	err := r.conn.InTx(ctx, func(q storage.Querier) error {
		current, err := r.selectByID(ctx, q, id)
		if err != nil {
			return err
		}
		updated, err = r.updateReturning(ctx, q, id, map[string]any{"status": statusFlag(!current.Status)})
		return err
	})
	if err != nil {
		return models.Task{}, fail("toggle", id, err)
	}
	return updated, nil
}

func (r *SQLTaskRepository) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return models.ErrTaskNotFound
	}

	err := r.conn.InTx(ctx, func(q storage.Querier) error {
		if err := r.mustExist(ctx, q, id); err != nil {
			return err
		}
		query, args, err := r.sb.Delete("tasks").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fail("delete", id, err)
	}
	return nil
}

func (r *SQLTaskRepository) selectByID(ctx context.Context, q storage.Querier, id int64) (models.Task, error) {
	query, args, err := r.sb.Select(taskColumns...).From("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return models.Task{}, err
	}
	t, err := scanTask(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, models.ErrTaskNotFound
	}
	return t, err
}

func (r *SQLTaskRepository) mustExist(ctx context.Context, q storage.Querier, id int64) error {
	query, args, err := r.sb.Select("1").From("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	var one int
	err = q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrTaskNotFound
	}
	return err
}

func (r *SQLTaskRepository) updateReturning(ctx context.Context, q storage.Querier, id int64, set map[string]any) (models.Task, error) {
	query, args, err := r.sb.Update("tasks").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		Suffix(returningTask).
		ToSql()
	if err != nil {
		return models.Task{}, err
	}
	return scanTask(q.QueryRowContext(ctx, query, args...))
}

// fail пропускает доменные ошибки как есть, остальное превращает в StorageError
func fail(op string, id int64, err error) error {
	if errors.Is(err, models.ErrTaskNotFound) || errors.Is(err, models.ErrNoFieldsToUpdate) {
		return err
	}
	storageErrors.WithLabelValues(op).Inc()
	return &models.StorageError{Op: op, ID: id, Err: err}
}
