package search

import (
	"errors"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

var (
	// ErrNotExecutable is returned by Execute when CanExecute is false.
	ErrNotExecutable = errors.New("search is not executable")
	ErrConfigInvalid = model.ErrConfigInvalid
	ErrClosed        = errors.New("search is closed")
	ErrUnknownSearch = errors.New("unknown search")
	ErrUnknownAction = errors.New("unknown action")
)
