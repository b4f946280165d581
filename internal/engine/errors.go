package engine

import (
	"errors"
	"strconv"
)

// Ошибки валидации flow.
var (
	// ErrInvalidJSON — граф не разбирается как JSON.
	ErrInvalidJSON = errors.New("invalid flow json")

	// ErrNoStartNode — во flow нет start узла.
	ErrNoStartNode = errors.New("flow must have a start node")

	// ErrMultipleStartNodes — во flow несколько start узлов.
	ErrMultipleStartNodes = errors.New("flow has more than one start node")

	// ErrEmptyNodeID — узел без ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeType — неизвестный или неподдерживаемый тип узла.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrDanglingConnection — connection ссылается на несуществующий узел.
	ErrDanglingConnection = errors.New("connection references unknown node")

	// ErrTooManyConnections — у не-traffic узла больше одного исходящего connection.
	ErrTooManyConnections = errors.New("node has more than one outgoing connection")

	// ErrInvalidNodeData — обязательное поле узла не заполнено или некорректно.
	ErrInvalidNodeData = errors.New("invalid node data")

	// ErrInvalidRoutes — ветки traffic узла некорректны.
	ErrInvalidRoutes = errors.New("invalid traffic routes")
)

// Ошибки обхода.
var (
	// ErrUnknownNode — узел продолжения отсутствует во flow.
	ErrUnknownNode = errors.New("unknown node")

	// ErrCycle — узел повторно встретился за один обход.
	ErrCycle = errors.New("node visited twice in one traversal")
)

// ErrPlaceholder — ошибка подстановки плейсхолдеров в сообщение.
var ErrPlaceholder = errors.New("placeholder substitution failed")

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + strconv.Quote(e.NodeID) + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
