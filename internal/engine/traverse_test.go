package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Relay/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedEngine(draw float64) *Engine {
	return &Engine{
		Now:  func() time.Time { return testNow },
		Rand: func() float64 { return draw },
	}
}

func mustLoad(t *testing.T, raw string) *domain.Flow {
	t.Helper()
	flow, err := Load([]byte(raw))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return flow
}

func messageText(t *testing.T, m Message) string {
	t.Helper()
	var doc struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(m.Payload, &doc); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return doc.Message.Text
}

const waitFlow = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "a", "type": "text", "data": {"text": "A"}},
		{"id": "w", "type": "wait", "data": {"waitTime": 10, "waitUnit": "minutes"}},
		{"id": "b", "type": "text", "data": {"text": "B"}},
		{"id": "end", "type": "end"}
	],
	"connections": [
		{"from": "start", "to": "a"},
		{"from": "a", "to": "w"},
		{"from": "w", "to": "b"},
		{"from": "b", "to": "end"}
	]
}`

func TestTraverse_WaitAndResume(t *testing.T) {
	flow := mustLoad(t, waitFlow)
	e := fixedEngine(0)

	first, err := e.Traverse(flow, "")
	if err != nil {
		t.Fatalf("first Traverse() error = %v", err)
	}
	if len(first.Messages) != 1 || messageText(t, first.Messages[0]) != "A" {
		t.Fatalf("first messages = %+v, want [A]", first.Messages)
	}
	if first.NextStepID != "b" {
		t.Errorf("NextStepID = %q, want b", first.NextStepID)
	}
	if first.NextStepAt == nil || !first.NextStepAt.Equal(testNow.Add(10*time.Minute)) {
		t.Errorf("NextStepAt = %v, want now+10m", first.NextStepAt)
	}
	if first.IsComplete {
		t.Error("wait must not complete the flow")
	}
	if first.LastStepID != "a" {
		t.Errorf("LastStepID = %q, want a", first.LastStepID)
	}

	second, err := e.Traverse(flow, first.NextStepID)
	if err != nil {
		t.Fatalf("second Traverse() error = %v", err)
	}
	if len(second.Messages) != 1 || messageText(t, second.Messages[0]) != "B" {
		t.Fatalf("second messages = %+v, want [B]", second.Messages)
	}
	if second.NextStepID != "" || second.NextStepAt != nil {
		t.Errorf("completed flow should have no next step, got %q %v", second.NextStepID, second.NextStepAt)
	}
	if !second.IsComplete {
		t.Error("end node must complete the flow")
	}
}

func TestTraverse_WaitUnits(t *testing.T) {
	tests := []struct {
		unit string
		want time.Duration
	}{
		{"minutes", 3 * time.Minute},
		{"hours", 3 * time.Hour},
		{"days", 72 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			flow := mustLoad(t, `{"nodes": [{"id": "s", "type": "start"}, {"id": "w", "type": "wait", "data": {"waitTime": 3, "waitUnit": "`+tt.unit+`"}}],
				"connections": [{"from": "s", "to": "w"}]}`)

			res, err := fixedEngine(0).Traverse(flow, "")
			if err != nil {
				t.Fatalf("Traverse() error = %v", err)
			}
			if res.NextStepAt == nil || res.NextStepAt.Sub(testNow) != tt.want {
				t.Errorf("NextStepAt = %v, want now+%v", res.NextStepAt, tt.want)
			}
			if !res.NextStepAt.After(testNow) {
				t.Error("NextStepAt must be strictly after now")
			}
			if res.NextStepID != "" {
				t.Errorf("wait without outgoing connection should have empty NextStepID, got %q", res.NextStepID)
			}
			if res.IsComplete {
				t.Error("wait must not complete the flow")
			}
		})
	}
}

func TestTraverse_NoOutgoingCompletes(t *testing.T) {
	flow := mustLoad(t, `{"nodes": [{"id": "s", "type": "start"}, {"id": "t", "type": "text", "data": {"text": "only"}}],
		"connections": [{"from": "s", "to": "t"}]}`)

	res, err := fixedEngine(0).Traverse(flow, "")
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if !res.IsComplete {
		t.Error("flow without outgoing connection should be complete")
	}
	if len(res.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(res.Messages))
	}
}

func TestTraverse_Cycle(t *testing.T) {
	flow := mustLoad(t, `{"nodes": [
			{"id": "s", "type": "start"},
			{"id": "a", "type": "text", "data": {"text": "A"}},
			{"id": "b", "type": "text", "data": {"text": "B"}}
		],
		"connections": [{"from": "s", "to": "a"}, {"from": "a", "to": "b"}, {"from": "b", "to": "a"}]}`)

	_, err := fixedEngine(0).Traverse(flow, "")
	if !errors.Is(err, ErrCycle) {
		t.Errorf("expected ErrCycle, got %v", err)
	}
}

func TestTraverse_CycleThroughWaitIsAllowed(t *testing.T) {
	flow := mustLoad(t, `{"nodes": [
			{"id": "s", "type": "start"},
			{"id": "a", "type": "text", "data": {"text": "A"}},
			{"id": "w", "type": "wait", "data": {"waitTime": 1, "waitUnit": "days"}}
		],
		"connections": [{"from": "s", "to": "a"}, {"from": "a", "to": "w"}, {"from": "w", "to": "a"}]}`)

	e := fixedEngine(0)
	res, err := e.Traverse(flow, "")
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if res.NextStepID != "a" {
		t.Fatalf("NextStepID = %q, want a", res.NextStepID)
	}

	res, err = e.Traverse(flow, res.NextStepID)
	if err != nil {
		t.Fatalf("resumed Traverse() error = %v", err)
	}
	if len(res.Messages) != 1 || res.NextStepID != "a" {
		t.Errorf("resumed result = %+v", res)
	}
}

func TestTraverse_UnknownStartNode(t *testing.T) {
	flow := mustLoad(t, waitFlow)

	_, err := fixedEngine(0).Traverse(flow, "missing")
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestTraverse_NoStartNode(t *testing.T) {
	flow := &domain.Flow{Nodes: []domain.Node{{ID: "t", Type: domain.NodeEnd}}}

	_, err := fixedEngine(0).Traverse(flow, "t")
	if !errors.Is(err, ErrNoStartNode) {
		t.Errorf("expected ErrNoStartNode, got %v", err)
	}
}

const splitFlow = `{
	"nodes": [
		{"id": "s", "type": "start"},
		{"id": "x", "type": "traffic", "data": {"routes": [
			{"percentage": 25, "targetNodeId": "a"},
			{"percentage": 25},
			{"percentage": 50, "targetNodeId": "c"}
		]}},
		{"id": "a", "type": "text", "data": {"text": "A"}},
		{"id": "b", "type": "text", "data": {"text": "B"}},
		{"id": "c", "type": "text", "data": {"text": "C"}}
	],
	"connections": [
		{"from": "s", "to": "x"},
		{"from": "x", "to": "b", "sourceHandle": "1"}
	]
}`

func TestTraverse_TrafficSplit(t *testing.T) {
	flow := mustLoad(t, splitFlow)

	tests := []struct {
		draw float64
		want string
	}{
		{0, "A"},
		{0.10, "A"},
		{0.25, "A"},
		{0.2500001, "B"},
		{0.49, "B"},
		{0.5, "B"},
		{0.51, "C"},
		{0.999999, "C"},
	}

	for _, tt := range tests {
		res, err := fixedEngine(tt.draw).Traverse(flow, "")
		if err != nil {
			t.Fatalf("draw %v: Traverse() error = %v", tt.draw, err)
		}
		if len(res.Messages) != 1 {
			t.Fatalf("draw %v: messages = %d, want 1", tt.draw, len(res.Messages))
		}
		if got := messageText(t, res.Messages[0]); got != tt.want {
			t.Errorf("draw %v: selected %q, want %q", tt.draw, got, tt.want)
		}
		if !res.IsComplete {
			t.Errorf("draw %v: traffic split must continue in the same call", tt.draw)
		}
	}
}

func TestTraverse_TrafficSplitExhaustive(t *testing.T) {
	flow := mustLoad(t, splitFlow)

	for i := 0; i < 1000; i++ {
		draw := float64(i) / 1000
		res, err := fixedEngine(draw).Traverse(flow, "")
		if err != nil {
			t.Fatalf("draw %v: Traverse() error = %v", draw, err)
		}
		if len(res.Messages) != 1 {
			t.Fatalf("draw %v: expected exactly one branch, got %d messages", draw, len(res.Messages))
		}
	}
}

func TestTraverse_TrafficSplitFallbackToLast(t *testing.T) {
	// Flow собран вручную в обход валидации: веса в сумме меньше 100.
	flow := &domain.Flow{
		Nodes: []domain.Node{
			{ID: "s", Type: domain.NodeStart},
			{ID: "x", Type: domain.NodeTraffic, Data: &domain.TrafficData{Routes: []domain.Route{
				{Percentage: 10, TargetNodeID: "a"},
				{Percentage: 10, TargetNodeID: "b"},
			}}},
			{ID: "a", Type: domain.NodeText, Data: &domain.TextData{Text: "A"}},
			{ID: "b", Type: domain.NodeText, Data: &domain.TextData{Text: "B"}},
		},
		Connections: []domain.Connection{{From: "s", To: "x"}},
	}

	res, err := fixedEngine(0.9).Traverse(flow, "")
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if got := messageText(t, res.Messages[0]); got != "B" {
		t.Errorf("fallback selected %q, want B", got)
	}
}

func TestTraverse_ResumeSkipsCommittedSplit(t *testing.T) {
	flow := mustLoad(t, splitFlow)

	res, err := fixedEngine(0.99).Traverse(flow, "a")
	if err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}
	if got := messageText(t, res.Messages[0]); got != "A" {
		t.Errorf("resume from a produced %q, want A", got)
	}
}
