// Package cache кэширует отдельные задачи в Redis. Ошибки чтения и записи
// логируются и считаются промахом; не записанная пометка удаления возвращается
// вызывающему.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
)

const keyPrefix = "tasks:task:"

// tombstone хранится вместо удалённой задачи: id не переиспользуются,
// поэтому ключ с ним всегда означает "задачи нет"
const (
	tombstone    = "deleted"
	tombstoneTTL = 24 * time.Hour
)

// setUnlessDeleted атомарно пишет запись, если под ключом нет tombstone
var setUnlessDeleted = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[2] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// evictUnlessDeleted убирает запись, но оставляет tombstone на месте
var evictUnlessDeleted = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return 0
end
return redis.call('DEL', KEYS[1])
`)

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tasks_cache_lookups_total",
		Help: "Task cache lookups by result",
	},
	[]string{"result"},
)

// Lookup результат чтения из кэша
type Lookup int

const (
	Miss Lookup = iota
	Hit
	Gone // задача удалена
)

type TaskCache interface {
	Get(ctx context.Context, id int64) (models.Task, Lookup)
	// Set безусловно записывает только что созданную задачу
	Set(ctx context.Context, task models.Task)
	// Refresh записывает прочитанную или изменённую задачу, если она не помечена удалённой
	Refresh(ctx context.Context, task models.Task)
	// Evict убирает запись; пометку удаления не трогает
	Evict(ctx context.Context, id int64)
	// Delete помечает задачу удалённой; ошибка значит, что пометка не записана
	Delete(ctx context.Context, id int64) error
}

// Noop используется, когда Redis не настроен или недоступен
type Noop struct{}

func (Noop) Get(context.Context, int64) (models.Task, Lookup) { return models.Task{}, Miss }
func (Noop) Set(context.Context, models.Task)                  {}
func (Noop) Refresh(context.Context, models.Task)              {}
func (Noop) Evict(context.Context, int64)                      {}
func (Noop) Delete(context.Context, int64) error               { return nil }

type entry struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Status      bool   `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.WithField("component", "task_cache"),
	}
}

func Key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func (c *RedisCache) Get(ctx context.Context, id int64) (models.Task, Lookup) {
	raw, err := c.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		lookups.WithLabelValues("miss").Inc()
		return models.Task{}, Miss
	}
	if err != nil {
		lookups.WithLabelValues("error").Inc()
		c.logger.WithError(err).WithField("task_id", id).Warn("cache get failed")
		return models.Task{}, Miss
	}
	if string(raw) == tombstone {
		lookups.WithLabelValues("gone").Inc()
		return models.Task{}, Gone
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		lookups.WithLabelValues("error").Inc()
		c.logger.WithError(err).WithField("task_id", id).Warn("corrupt cache entry")
		if err := c.client.Del(ctx, Key(id)).Err(); err != nil {
			c.logger.WithError(err).WithField("task_id", id).Warn("cache evict failed")
		}
		return models.Task{}, Miss
	}
	lookups.WithLabelValues("hit").Inc()
	return models.Task{
		ID:          e.ID,
		Description: e.Description,
		DueDate:     e.DueDate,
		Status:      e.Status,
		CreatedAt:   e.CreatedAt,
	}, Hit
}

func (c *RedisCache) Set(ctx context.Context, t models.Task) {
	raw, ok := c.encode(t)
	if !ok {
		return
	}
	if err := c.client.Set(ctx, Key(t.ID), raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("task_id", t.ID).Warn("cache set failed")
	}
}

// Refresh не перезаписывает tombstone: опоздавшее чтение не вернёт удалённую задачу
func (c *RedisCache) Refresh(ctx context.Context, t models.Task) {
	raw, ok := c.encode(t)
	if !ok {
		return
	}
	written, err := setUnlessDeleted.Run(ctx, c.client, []string{Key(t.ID)},
		raw, tombstone, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.WithError(err).WithField("task_id", t.ID).Warn("cache set failed")
		return
	}
	if written == 0 {
		c.logger.WithField("task_id", t.ID).Debug("task already deleted, cache not updated")
	}
}

func (c *RedisCache) Evict(ctx context.Context, id int64) {
	if err := evictUnlessDeleted.Run(ctx, c.client, []string{Key(id)}, tombstone).Err(); err != nil {
		c.logger.WithError(err).WithField("task_id", id).Warn("cache evict failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, id int64) error {
	if err := c.client.Set(ctx, Key(id), tombstone, tombstoneTTL).Err(); err != nil {
		return fmt.Errorf("mark task %d deleted in cache: %w", id, err)
	}
	return nil
}

// Flush удаляет все ключи задач вместе с пометками удаления; нужен после пересоздания схемы
func (c *RedisCache) Flush(ctx context.Context) (int, error) {
	var removed int
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("flush task cache: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("flush task cache: %w", err)
	}
	return removed, nil
}

func (c *RedisCache) encode(t models.Task) ([]byte, bool) {
	raw, err := json.Marshal(entry{
		ID:          t.ID,
		Description: t.Description,
		DueDate:     t.DueDate,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	})
	if err != nil {
		c.logger.WithError(err).WithField("task_id", t.ID).Warn("cache encode failed")
		return nil, false
	}
	return raw, true
}
