package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alexstrack/claude-todo/services/tasks/internal/models"
)

const maxBodyBytes = 1 << 20

// DecodeJSON строго разбирает тело запроса. Пустое тело трактуется как {},
// чтобы дальше сработали проверки обязательных полей.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return decodeError(err)
	}
	if dec.More() {
		return models.NewValidationError("Request body must contain a single JSON object")
	}
	return nil
}

func decodeError(err error) error {
	var (
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return models.NewValidationError("Malformed JSON body")
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return models.NewValidationError("Request body must be a JSON object")
		}
		return &models.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{typeErr.Field: fmt.Sprintf("Not a valid %s.", typeErr.Type.Kind())},
		}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &models.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{field: "Unknown field."},
		}
	case errors.As(err, &maxBytesErr):
		return models.NewValidationError("Request body too large")
	default:
		return models.NewValidationError(err.Error())
	}
}
