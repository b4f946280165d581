package engine

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shaiso/Relay/internal/domain"
)

// Message — сообщение провайдеру, построенное из text или card узла.
type Message struct {
	NodeID  string          `json:"node_id"`
	Payload json.RawMessage `json:"payload"`
}

// Result — результат одного обхода flow.
type Result struct {
	// Messages — сообщения в порядке обхода.
	Messages []Message

	// NextStepID — узел продолжения. Пуст, если flow завершён
	// или у wait узла нет исходящего connection.
	NextStepID string

	// NextStepAt — время пробуждения. Задано только при остановке на wait.
	NextStepAt *time.Time

	// LastStepID — последний узел, породивший сообщение.
	LastStepID string

	IsComplete bool
}

// Engine обходит flow. Источники времени и случайности подменяются в тестах.
type Engine struct {
	// Now возвращает текущее время. По умолчанию time.Now.
	Now func() time.Time

	// Rand возвращает равномерное значение в [0,1). По умолчанию rand.Float64.
	Rand func() float64
}

// New создаёт Engine с реальными часами и генератором.
func New() *Engine {
	return &Engine{Now: time.Now, Rand: rand.Float64}
}

// Traverse обходит flow с настоящими часами и генератором.
func Traverse(flow *domain.Flow, startNodeID string) (*Result, error) {
	return New().Traverse(flow, startNodeID)
}

// Traverse проходит flow от startNodeID (или от start узла, если пусто)
// до wait, end или узла без исходящих рёбер.
//
// Обход никогда не продолжается за wait узлом в том же вызове.
// Traffic узел выбирает ветку и продолжает обход. Повторный визит
// узла за один вызов возвращает ErrCycle.
func (e *Engine) Traverse(flow *domain.Flow, startNodeID string) (*Result, error) {
	if flow == nil {
		return nil, ErrNoStartNode
	}
	start, ok := flow.StartNode()
	if !ok {
		return nil, ErrNoStartNode
	}

	currentID := startNodeID
	if currentID == "" {
		currentID = start.ID
	}

	res := &Result{}
	visited := make(map[string]bool)

	for {
		node, ok := flow.Node(currentID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, currentID)
		}
		if visited[node.ID] {
			return nil, fmt.Errorf("%w: %q", ErrCycle, node.ID)
		}
		visited[node.ID] = true

		switch node.Type {
		case domain.NodeStart:

		case domain.NodeText, domain.NodeCard:
			payload, err := BuildMessage(node)
			if err != nil {
				return nil, err
			}
			res.Messages = append(res.Messages, Message{NodeID: node.ID, Payload: payload})
			res.LastStepID = node.ID

		case domain.NodeWait:
			data, ok := node.Data.(*domain.WaitData)
			if !ok {
				return nil, NewValidationError(node.ID, "data", "wait node has no data", ErrInvalidNodeData)
			}
			at := e.now().Add(data.Duration())
			res.NextStepAt = &at
			res.NextStepID, _ = flow.Next(node.ID)
			return res, nil

		case domain.NodeTraffic:
			target, err := e.selectRoute(flow, node)
			if err != nil {
				return nil, err
			}
			currentID = target
			continue

		case domain.NodeEnd:
			res.IsComplete = true
			return res, nil

		default:
			return nil, NewValidationError(node.ID, "type",
				fmt.Sprintf("unsupported node type: %q", node.Type), ErrUnknownNodeType)
		}

		next, ok := flow.Next(node.ID)
		if !ok {
			res.IsComplete = true
			return res, nil
		}
		currentID = next
	}
}

// selectRoute выбирает ветку traffic узла: первая ветка, чей накопленный
// вес не меньше случайного значения в [0,100), иначе последняя.
func (e *Engine) selectRoute(flow *domain.Flow, node *domain.Node) (string, error) {
	data, ok := node.Data.(*domain.TrafficData)
	if !ok || len(data.Routes) == 0 {
		return "", NewValidationError(node.ID, "routes", "traffic node has no routes", ErrInvalidRoutes)
	}

	draw := e.rand() * 100
	index := len(data.Routes) - 1
	var acc float64
	for i, r := range data.Routes {
		acc += r.Percentage
		if acc >= draw {
			index = i
			break
		}
	}

	target := resolveRouteTarget(flow, node.ID, index, data.Routes[index])
	if target == "" {
		return "", NewValidationError(node.ID, "routes",
			fmt.Sprintf("route %d has no target", index), ErrInvalidRoutes)
	}
	return target, nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) rand() float64 {
	if e.Rand == nil {
		return rand.Float64()
	}
	return e.Rand()
}
