package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlowRecord — строка message_flows: метаданные flow и его граф.
type FlowRecord struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name — имя flow для оператора.
	Name string `json:"name"`

	// IsActive — флаг активности.
	IsActive bool `json:"is_active"`

	// Graph — граф в исходном JSON. Разбирается и валидируется engine.Load.
	Graph json.RawMessage `json:"flow"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Flow — неизменяемый направленный граф сообщений кампании.
//
// Ровно один узел типа start. Узел traffic может иметь несколько исходящих
// connections (по одному на output port), остальные узлы — не более одного.
type Flow struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeType — тип узла flow.
type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeText     NodeType = "text"
	NodeCard     NodeType = "card"
	NodeWait     NodeType = "wait"
	NodeTraffic  NodeType = "traffic"
	NodeCallFlow NodeType = "call-flow"
	NodeEnd      NodeType = "end"
)

// ParseNodeType нормализует тип узла. "traffic-split" — синоним traffic.
func ParseNodeType(s string) NodeType {
	if s == "traffic-split" {
		return NodeTraffic
	}
	return NodeType(s)
}

// Node — узел flow.
//
// Data — tagged union по Type: для каждого типа свой конкретный тип данных
// (*TextData, *CardData, *WaitData, *TrafficData). Для start, end и
// неизвестных типов Data == nil.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data,omitempty"`
}

// NodeData — данные узла конкретного типа.
type NodeData interface {
	nodeType() NodeType
}

// Button — кнопка text или card узла.
type Button struct {
	Label string `json:"label"`

	// Action — "send_message" даёт postback с Message в payload,
	// любое другое значение — web_url с URL.
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// IsPostback возвращает true, если кнопка отправляет postback.
func (b Button) IsPostback() bool {
	return b.Action == "send_message"
}

// TextData — текстовое сообщение с опциональными кнопками.
type TextData struct {
	Text        string   `json:"text"`
	Buttons     []Button `json:"buttons,omitempty"`
	MessageType string   `json:"messageType,omitempty"`
}

// CardData — карточка (generic template).
type CardData struct {
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	URL         string   `json:"url,omitempty"`
	Buttons     []Button `json:"buttons,omitempty"`
	MessageType string   `json:"messageType,omitempty"`
}

// WaitUnit — единица времени ожидания.
type WaitUnit string

const (
	WaitMinutes WaitUnit = "minutes"
	WaitHours   WaitUnit = "hours"
	WaitDays    WaitUnit = "days"
)

// MaxWait — наибольшая пауза wait узла.
const MaxWait = 365 * 24 * time.Hour

// WaitData — пауза flow.
type WaitData struct {
	Time int      `json:"waitTime"`
	Unit WaitUnit `json:"waitUnit"`
}

// UnitDuration возвращает длительность единицы ожидания.
// Для неизвестной единицы возвращает 0.
func (w *WaitData) UnitDuration() time.Duration {
	switch w.Unit {
	case WaitMinutes:
		return time.Minute
	case WaitHours:
		return time.Hour
	case WaitDays:
		return 24 * time.Hour
	}
	return 0
}

// Duration возвращает длительность ожидания.
// Для неизвестной единицы возвращает 0. Корректна для Time*unit <= MaxWait.
func (w *WaitData) Duration() time.Duration {
	return time.Duration(w.Time) * w.UnitDuration()
}

// Route — ветка traffic узла.
type Route struct {
	// Percentage — вес ветки в процентах.
	Percentage float64 `json:"percentage"`

	// TargetNodeID — целевой узел. Если пуст, цель берётся из connection
	// с output port, равным индексу ветки.
	TargetNodeID string `json:"targetNodeId,omitempty"`
}

// TrafficData — A/B разбиение трафика.
type TrafficData struct {
	Routes []Route `json:"routes"`
}

func (*TextData) nodeType() NodeType    { return NodeText }
func (*CardData) nodeType() NodeType    { return NodeCard }
func (*WaitData) nodeType() NodeType    { return NodeWait }
func (*TrafficData) nodeType() NodeType { return NodeTraffic }

// UnmarshalJSON разбирает data согласно type.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	n.ID = raw.ID
	n.Type = ParseNodeType(raw.Type)
	n.Data = nil

	var data NodeData
	switch n.Type {
	case NodeText:
		data = &TextData{}
	case NodeCard:
		data = &CardData{}
	case NodeWait:
		data = &WaitData{Unit: WaitMinutes}
	case NodeTraffic:
		data = &TrafficData{}
	default:
		return nil
	}

	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return fmt.Errorf("node %q: decode %s data: %w", raw.ID, n.Type, err)
		}
	}
	n.Data = data
	return nil
}

// Connection — ребро графа.
type Connection struct {
	From string `json:"from"`
	To   string `json:"to"`

	// OutputPort — sourceHandle ребра. Значим только для traffic узлов.
	OutputPort string `json:"sourceHandle,omitempty"`
}

// UnmarshalJSON принимает from/to и, если они пусты, source/target.
func (c *Connection) UnmarshalJSON(b []byte) error {
	var raw struct {
		From         string `json:"from"`
		To           string `json:"to"`
		Source       string `json:"source"`
		Target       string `json:"target"`
		SourceHandle string `json:"sourceHandle"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	c.From = raw.From
	if c.From == "" {
		c.From = raw.Source
	}
	c.To = raw.To
	if c.To == "" {
		c.To = raw.Target
	}
	c.OutputPort = raw.SourceHandle
	return nil
}

// Node возвращает узел по ID.
func (f *Flow) Node(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// StartNode возвращает единственный start узел.
func (f *Flow) StartNode() (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeStart {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing возвращает исходящие connections узла в порядке объявления.
func (f *Flow) Outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range f.Connections {
		if c.From == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Next возвращает цель первого исходящего connection узла.
func (f *Flow) Next(nodeID string) (string, bool) {
	for _, c := range f.Connections {
		if c.From == nodeID {
			return c.To, true
		}
	}
	return "", false
}
