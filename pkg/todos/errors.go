package todos

import "errors"

// List-related errors
var (
	ErrEmptyListName    = errors.New("list name cannot be empty")
	ErrListNameTooLong  = errors.New("list name cannot exceed 255 characters")
	ErrUnknownTemplate  = errors.New("unknown list template")
	ErrListNotFound     = errors.New("list not found")
	ErrInvalidShareAddr = errors.New("invalid share address")
)

// Todo-related errors
var (
	ErrEmptyTodoText   = errors.New("todo text cannot be empty")
	ErrTodoTextTooLong = errors.New("todo text cannot exceed 1000 characters")
	ErrTodoNotFound    = errors.New("todo not found")
	ErrInvalidDate     = errors.New("invalid todo date: must be YYYY-MM-DD")
)
