package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shaiso/Relay/internal/domain"
)

// weightEpsilon — допуск при сравнении суммы весов traffic узла со 100.
const weightEpsilon = 1e-6

// Поддерживаемые типы узлов.
var validNodeTypes = map[domain.NodeType]bool{
	domain.NodeStart:   true,
	domain.NodeText:    true,
	domain.NodeCard:    true,
	domain.NodeWait:    true,
	domain.NodeTraffic: true,
	domain.NodeEnd:     true,
}

// Load разбирает граф flow и валидирует его.
func Load(raw []byte) (*domain.Flow, error) {
	var flow domain.Flow
	if err := json.Unmarshal(raw, &flow); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := Validate(&flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

// Validate выполняет полную валидацию flow до обхода.
//
// Проверяет:
// - Ровно один start узел
// - Уникальность и непустоту ID узлов
// - Поддерживаемость типов узлов
// - Обязательные поля данных каждого типа
// - Что connections ссылаются на существующие узлы
// - Что только traffic узлы ветвятся
// - Что ветки traffic разрешимы, а веса в сумме дают 100
func Validate(flow *domain.Flow) error {
	if flow == nil || len(flow.Nodes) == 0 {
		return ErrNoStartNode
	}

	nodeIDs := make(map[string]bool, len(flow.Nodes))
	starts := 0

	for i := range flow.Nodes {
		node := &flow.Nodes[i]

		if node.ID == "" {
			return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
		}
		if nodeIDs[node.ID] {
			return NewValidationError(node.ID, "id",
				fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
		}
		nodeIDs[node.ID] = true

		if !validNodeTypes[node.Type] {
			return NewValidationError(node.ID, "type",
				fmt.Sprintf("unsupported node type: %q", node.Type), ErrUnknownNodeType)
		}
		if node.Type == domain.NodeStart {
			starts++
		}

		if err := validateNodeData(node); err != nil {
			return err
		}
	}

	switch {
	case starts == 0:
		return ErrNoStartNode
	case starts > 1:
		return ErrMultipleStartNodes
	}

	if err := validateConnections(flow, nodeIDs); err != nil {
		return err
	}

	for i := range flow.Nodes {
		if flow.Nodes[i].Type == domain.NodeTraffic {
			if err := validateRoutes(flow, &flow.Nodes[i], nodeIDs); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateNodeData проверяет обязательные поля узла по его типу.
func validateNodeData(node *domain.Node) error {
	switch data := node.Data.(type) {
	case *domain.TextData:
		if data.Text == "" {
			return NewValidationError(node.ID, "text", "text node has empty text", ErrInvalidNodeData)
		}
		return validateButtons(node.ID, data.Buttons)

	case *domain.CardData:
		if data.Title == "" {
			return NewValidationError(node.ID, "title", "card node has empty title", ErrInvalidNodeData)
		}
		return validateButtons(node.ID, data.Buttons)

	case *domain.WaitData:
		if data.Time <= 0 {
			return NewValidationError(node.ID, "waitTime",
				fmt.Sprintf("wait time must be positive, got %d", data.Time), ErrInvalidNodeData)
		}
		unit := data.UnitDuration()
		if unit == 0 {
			return NewValidationError(node.ID, "waitUnit",
				fmt.Sprintf("unknown wait unit: %q", data.Unit), ErrInvalidNodeData)
		}
		// Сравнение в единицах: произведение может переполнить Duration.
		if int64(data.Time) > int64(domain.MaxWait/unit) {
			return NewValidationError(node.ID, "waitTime",
				fmt.Sprintf("wait of %d %s exceeds %s", data.Time, data.Unit, domain.MaxWait), ErrInvalidNodeData)
		}
		return nil

	case *domain.TrafficData:
		if len(data.Routes) == 0 {
			return NewValidationError(node.ID, "routes", "traffic node has no routes", ErrInvalidRoutes)
		}
		return nil

	case nil:
		switch node.Type {
		case domain.NodeText, domain.NodeCard, domain.NodeWait, domain.NodeTraffic:
			return NewValidationError(node.ID, "data", "node has no data", ErrInvalidNodeData)
		}
		return nil

	default:
		return NewValidationError(node.ID, "data",
			fmt.Sprintf("unexpected data type %T", data), ErrInvalidNodeData)
	}
}

func validateButtons(nodeID string, buttons []domain.Button) error {
	for i, b := range buttons {
		if b.Label == "" {
			return NewValidationError(nodeID, "buttons",
				fmt.Sprintf("button %d has empty label", i), ErrInvalidNodeData)
		}
		if b.IsPostback() && b.Message == "" {
			return NewValidationError(nodeID, "buttons",
				fmt.Sprintf("button %d sends an empty message", i), ErrInvalidNodeData)
		}
	}
	return nil
}

// validateConnections проверяет концы рёбер и ветвление.
func validateConnections(flow *domain.Flow, nodeIDs map[string]bool) error {
	outgoing := make(map[string]int)

	for _, c := range flow.Connections {
		if !nodeIDs[c.From] {
			return NewValidationError(c.From, "connections",
				fmt.Sprintf("connection from unknown node %q", c.From), ErrDanglingConnection)
		}
		if !nodeIDs[c.To] {
			return NewValidationError(c.From, "connections",
				fmt.Sprintf("connection to unknown node %q", c.To), ErrDanglingConnection)
		}
		outgoing[c.From]++
	}

	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		if node.Type != domain.NodeTraffic && outgoing[node.ID] > 1 {
			return NewValidationError(node.ID, "connections",
				fmt.Sprintf("%s node has %d outgoing connections", node.Type, outgoing[node.ID]),
				ErrTooManyConnections)
		}
	}
	return nil
}

// validateRoutes проверяет веса и цели веток traffic узла.
// Сумма весов должна быть равна 100: на этапе обхода fallback на
// последнюю ветку остаётся только для погрешности float.
func validateRoutes(flow *domain.Flow, node *domain.Node, nodeIDs map[string]bool) error {
	data := node.Data.(*domain.TrafficData)

	var sum float64
	for i, r := range data.Routes {
		if r.Percentage < 0 || r.Percentage > 100 || math.IsNaN(r.Percentage) {
			return NewValidationError(node.ID, "routes",
				fmt.Sprintf("route %d has percentage %v outside [0,100]", i, r.Percentage), ErrInvalidRoutes)
		}
		sum += r.Percentage

		target := resolveRouteTarget(flow, node.ID, i, r)
		if target == "" {
			return NewValidationError(node.ID, "routes",
				fmt.Sprintf("route %d has no target", i), ErrInvalidRoutes)
		}
		if !nodeIDs[target] {
			return NewValidationError(node.ID, "routes",
				fmt.Sprintf("route %d targets unknown node %q", i, target), ErrInvalidRoutes)
		}
	}

	if math.Abs(sum-100) > weightEpsilon {
		return NewValidationError(node.ID, "routes",
			fmt.Sprintf("route percentages sum to %v, want 100", sum), ErrInvalidRoutes)
	}
	return nil
}

// resolveRouteTarget возвращает цель ветки: явный targetNodeId или
// connection, чей output port равен индексу ветки.
func resolveRouteTarget(flow *domain.Flow, nodeID string, index int, r domain.Route) string {
	if r.TargetNodeID != "" {
		return r.TargetNodeID
	}
	port := strconv.Itoa(index)
	for _, c := range flow.Outgoing(nodeID) {
		if c.OutputPort == port {
			return c.To
		}
	}
	return ""
}
