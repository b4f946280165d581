package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — операция невозможна в текущем состоянии
	// (например, сохранение прогресса run, который уже не running).
	ErrInvalidState = errors.New("invalid state")
)
