package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrTaskNotFound     = errors.New("Task not found")
	ErrNoFieldsToUpdate = errors.New("No fields to update")
)

// ValidationError ошибка входных данных (400). Fields: поле -> причина.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// StorageError сбой хранилища при выполнении операции Op (500)
type StorageError struct {
	Op  string
	ID  int64
	Err error
}

func (e *StorageError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("%s task %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s tasks: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
