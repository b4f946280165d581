package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Relay/internal/domain"
)

func TestLoad_Valid(t *testing.T) {
	raw := []byte(`{
		"nodes": [
			{"id": "s", "type": "start", "data": {}},
			{"id": "t", "type": "text", "data": {"text": "hello", "buttons": [{"label": "Go", "action": "open_url", "url": "https://x.test"}]}},
			{"id": "w", "type": "wait", "data": {"waitTime": 2, "waitUnit": "hours"}},
			{"id": "split", "type": "traffic-split", "data": {"routes": [{"percentage": 30, "targetNodeId": "a"}, {"percentage": 70}]}},
			{"id": "a", "type": "card", "data": {"title": "A", "imageUrl": "https://x.test/a.png"}},
			{"id": "b", "type": "end"}
		],
		"connections": [
			{"from": "s", "to": "t"},
			{"source": "t", "target": "w"},
			{"from": "w", "to": "split"},
			{"from": "split", "to": "b", "sourceHandle": "1"}
		]
	}`)

	flow, err := Load(raw)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	split, ok := flow.Node("split")
	if !ok {
		t.Fatal("split node not found")
	}
	if split.Type != domain.NodeTraffic {
		t.Errorf("traffic-split should normalize to traffic, got %q", split.Type)
	}

	wait, _ := flow.Node("w")
	data, ok := wait.Data.(*domain.WaitData)
	if !ok {
		t.Fatalf("wait data has type %T", wait.Data)
	}
	if data.Duration().Hours() != 2 {
		t.Errorf("wait duration = %v, want 2h", data.Duration())
	}

	if next, _ := flow.Next("t"); next != "w" {
		t.Errorf("source/target connection not parsed, next(t) = %q", next)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	_, err := Load([]byte(`{"nodes": [`))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{
			name: "no nodes",
			raw:  `{"nodes": [], "connections": []}`,
			want: ErrNoStartNode,
		},
		{
			name: "no start",
			raw:  `{"nodes": [{"id": "t", "type": "text", "data": {"text": "x"}}]}`,
			want: ErrNoStartNode,
		},
		{
			name: "two starts",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "start"}]}`,
			want: ErrMultipleStartNodes,
		},
		{
			name: "empty id",
			raw:  `{"nodes": [{"id": "", "type": "start"}]}`,
			want: ErrEmptyNodeID,
		},
		{
			name: "duplicate id",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "s", "type": "end"}]}`,
			want: ErrDuplicateNodeID,
		},
		{
			name: "call-flow unsupported",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "c", "type": "call-flow", "data": {"selectedFlowId": "x"}}]}`,
			want: ErrUnknownNodeType,
		},
		{
			name: "empty text",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "t", "type": "text", "data": {"text": ""}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "card without title",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "c", "type": "card", "data": {"subtitle": "x"}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "postback without message",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "t", "type": "text", "data": {"text": "x", "buttons": [{"label": "B", "action": "send_message"}]}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "wait zero",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": 0}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "wait overflows duration",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": 200000000, "waitUnit": "days"}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "wait over a year",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": 366, "waitUnit": "days"}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "wait unknown unit",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": 1, "waitUnit": "weeks"}}]}`,
			want: ErrInvalidNodeData,
		},
		{
			name: "dangling connection",
			raw:  `{"nodes": [{"id": "s", "type": "start"}], "connections": [{"from": "s", "to": "missing"}]}`,
			want: ErrDanglingConnection,
		},
		{
			name: "text with two outgoing",
			raw: `{"nodes": [{"id": "s", "type": "start"}, {"id": "a", "type": "end"}, {"id": "b", "type": "end"}],
				"connections": [{"from": "s", "to": "a"}, {"from": "s", "to": "b"}]}`,
			want: ErrTooManyConnections,
		},
		{
			name: "traffic without routes",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "x", "type": "traffic", "data": {"routes": []}}]}`,
			want: ErrInvalidRoutes,
		},
		{
			name: "traffic weights below 100",
			raw: `{"nodes": [{"id": "s", "type": "start"}, {"id": "x", "type": "traffic", "data": {"routes": [
				{"percentage": 40, "targetNodeId": "e"}, {"percentage": 40, "targetNodeId": "e"}]}}, {"id": "e", "type": "end"}]}`,
			want: ErrInvalidRoutes,
		},
		{
			name: "traffic negative weight",
			raw: `{"nodes": [{"id": "s", "type": "start"}, {"id": "x", "type": "traffic", "data": {"routes": [
				{"percentage": -10, "targetNodeId": "e"}, {"percentage": 110, "targetNodeId": "e"}]}}, {"id": "e", "type": "end"}]}`,
			want: ErrInvalidRoutes,
		},
		{
			name: "traffic unresolvable route",
			raw:  `{"nodes": [{"id": "s", "type": "start"}, {"id": "x", "type": "traffic", "data": {"routes": [{"percentage": 100}]}}]}`,
			want: ErrInvalidRoutes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ValidationErrorContext(t *testing.T) {
	_, err := Load([]byte(`{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": -1}}]}`))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if vErr.NodeID != "w" {
		t.Errorf("NodeID = %q, want w", vErr.NodeID)
	}
	if vErr.Field != "waitTime" {
		t.Errorf("Field = %q, want waitTime", vErr.Field)
	}
}

func TestValidate_MaxWaitAccepted(t *testing.T) {
	raw := `{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": 365, "waitUnit": "days"}}],
		"connections": [{"from": "s", "to": "w"}]}`

	flow, err := Load([]byte(raw))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	wait, _ := flow.Nodes[1].Data.(*domain.WaitData)
	if wait == nil || wait.Duration() != domain.MaxWait {
		t.Errorf("wait duration = %v, want %v", wait, domain.MaxWait)
	}
}
