package nl2sql

import (
	"context"
	"errors"

	"github.com/edusql/edusql/internal/intent"
)

// ErrEmptyGeneration is returned when the model reply contains no SQL.
var ErrEmptyGeneration = errors.New("model returned empty SQL")

type Request struct {
	CallerID string
	Question string
	Category intent.Category
	Keywords []string
	Schema   string
	Dialect  string
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Translator turns a question into one SQL statement. It does not judge safety.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
