// Package storagetest поднимает SQLite-базу с актуальной схемой для тестов.
package storagetest

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alexstrack/claude-todo/services/tasks/internal/storage"
)

// Options возвращает параметры подключения к новому файлу в t.TempDir()
func Options(t *testing.T) storage.Options {
	t.Helper()
	return storage.Options{
		Driver: string(storage.DialectSQLite),
		DSN:    storage.SQLiteDSN(filepath.Join(t.TempDir(), "tasks.db")),
	}
}

// NewSQLite создаёт базу, прогоняет миграции и закрывает её по окончании теста
func NewSQLite(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	opts := Options(t)

	_, err := storage.Migrate(ctx, opts, storage.MigrateUp, QuietLogger())
	require.NoError(t, err)

	db, err := storage.Open(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func QuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
