package policy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/errors"
	"github.com/vinayprograms/swarmkit/registry"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus, *registry.Registry) {
	t.Helper()
	b := bus.New(bus.DefaultConfig())
	agents := registry.New()
	e := NewEngine("s1", b, agents, EngineConfig{})
	t.Cleanup(func() {
		e.Close()
		b.Close()
		agents.Close()
	})
	return e, b, agents
}

// recordRule returns a rule that appends its id to *order when applied.
func recordRule(id string, priority int, order *[]string) *Rule {
	return &Rule{
		RuleID:       id,
		RulePriority: priority,
		Then: func(ctx context.Context, msg *bus.Message, pc *Context) error {
			*order = append(*order, id)
			return nil
		},
	}
}

func publish(t *testing.T, b *bus.Bus, msg bus.Message) *bus.Message {
	t.Helper()
	stored, err := b.Publish(context.Background(), msg)
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	return stored
}

// --- Unit Tests ---

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"doc", "doc", true},
		{"doc", "docs", false},
		{"task.*", "task.created", true},
		{"task.*", "tasks", false},
		{"agent-?", "agent-1", true},
	}

	for _, tt := range tests {
		if got := matchPattern(tt.pattern, tt.value); got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}

	if !matchAny(nil, "x") {
		t.Error("empty pattern list should match everything")
	}
}

func TestRule_Defaults(t *testing.T) {
	r := &Rule{RuleID: "r1"}
	if r.Name() != "r1" {
		t.Errorf("Name() = %q, want id fallback", r.Name())
	}
	ok, err := r.Match(&bus.Message{}, nil)
	if !ok || err != nil {
		t.Errorf("Match() = %v, %v, want true, nil", ok, err)
	}
	if err := r.Apply(context.Background(), &bus.Message{}, nil); err != nil {
		t.Errorf("Apply() = %v", err)
	}
	if !r.Enabled() {
		t.Error("rules are enabled unless Disabled is set")
	}
}

func TestEngine_Register(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.Register(&Rule{RuleID: "p1"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := e.Register(&Rule{RuleID: "p1"}); !errors.Is(err, errors.ErrCodeDuplicateID) {
		t.Errorf("duplicate error = %v, want DUPLICATE_ID", err)
	}
	if err := e.Register(&Rule{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty id error = %v, want INVALID_INPUT", err)
	}
	if _, ok := e.Policy("p1"); !ok {
		t.Error("Policy should find p1")
	}
}

func TestEngine_PriorityOrder(t *testing.T) {
	e, b, _ := newTestEngine(t)

	var order []string
	e.Register(recordRule("low", 1, &order))
	e.Register(recordRule("high", 100, &order))
	e.Register(recordRule("tie-a", 10, &order))
	e.Register(recordRule("tie-b", 10, &order))
	e.Register(recordRule("mid", 50, &order))

	publish(t, b, bus.Message{Type: "doc"})

	want := []string{"high", "mid", "tie-a", "tie-b", "low"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestEngine_FailureIsolation(t *testing.T) {
	e, b, _ := newTestEngine(t)

	events, cancel := e.Watch()
	defer cancel()

	var order []string
	e.Register(&Rule{
		RuleID:       "throws",
		RulePriority: 30,
		Then: func(ctx context.Context, msg *bus.Message, pc *Context) error {
			return fmt.Errorf("action failed")
		},
	})
	e.Register(&Rule{
		RuleID:       "panics",
		RulePriority: 20,
		When: func(msg *bus.Message, pc *Context) (bool, error) {
			panic("predicate exploded")
		},
	})
	e.Register(recordRule("survivor", 10, &order))

	msg := publish(t, b, bus.Message{Type: "doc"})

	if len(order) != 1 {
		t.Errorf("lower-priority policy should still run, order = %v", order)
	}

	for _, want := range []string{"throws", "panics"} {
		select {
		case ev := <-events:
			if ev.Type != EventPolicyError || ev.PolicyID != want {
				t.Errorf("event = %v/%s, want policy_error/%s", ev.Type, ev.PolicyID, want)
			}
			if ev.MessageID != msg.ID {
				t.Errorf("MessageID = %q, want %q", ev.MessageID, msg.ID)
			}
			if !errors.Is(ev.Err, errors.ErrCodeOperationFailed) {
				t.Errorf("Err = %v, want OPERATION_FAILED", ev.Err)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s error", want)
		}
	}

	c := e.Status().Counters
	if c.Failed != 2 || c.Evaluated != 3 || c.Messages != 1 {
		t.Errorf("counters = %+v, want failed=2 evaluated=3 messages=1", c)
	}
}

func TestEngine_MatchGatesApply(t *testing.T) {
	e, b, _ := newTestEngine(t)

	applied := 0
	e.Register(&Rule{
		RuleID: "docs-only",
		When: func(msg *bus.Message, pc *Context) (bool, error) {
			return msg.Type == "doc", nil
		},
		Then: func(ctx context.Context, msg *bus.Message, pc *Context) error {
			applied++
			return nil
		},
	})

	publish(t, b, bus.Message{Type: "doc"})
	publish(t, b, bus.Message{Type: "review"})

	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if got := e.Status().Counters.Matched; got != 1 {
		t.Errorf("Matched = %d, want 1", got)
	}
}

func TestEngine_EnableDisable(t *testing.T) {
	e, b, _ := newTestEngine(t)

	var order []string
	e.Register(recordRule("p1", 1, &order))
	e.Register(&Rule{RuleID: "starts-off", Disabled: true, Then: func(ctx context.Context, msg *bus.Message, pc *Context) error {
		order = append(order, "starts-off")
		return nil
	}})

	e.Disable("p1")
	e.Disable("unknown")
	publish(t, b, bus.Message{Type: "doc"})
	if len(order) != 0 {
		t.Errorf("disabled policies ran: %v", order)
	}

	e.Enable("p1")
	e.Enable("starts-off")
	e.Enable("unknown")
	publish(t, b, bus.Message{Type: "doc"})
	if len(order) != 2 {
		t.Errorf("order = %v, want both enabled policies", order)
	}

	e.Unregister("p1")
	e.Unregister("p1")
	order = nil
	publish(t, b, bus.Message{Type: "doc"})
	if fmt.Sprint(order) != "[starts-off]" {
		t.Errorf("order = %v after unregister", order)
	}
}

func TestEngine_Status(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.Register(&Rule{RuleID: "a", RuleName: "Alpha", RulePriority: 5})
	e.Register(&Rule{RuleID: "b", RulePriority: 9, Disabled: true})

	st := e.Status()
	if st.Total != 2 || st.Enabled != 1 {
		t.Errorf("Total/Enabled = %d/%d, want 2/1", st.Total, st.Enabled)
	}
	want := []PolicyInfo{
		{ID: "a", Name: "Alpha", Priority: 5, Enabled: true},
		{ID: "b", Name: "b", Priority: 9, Enabled: false},
	}
	if fmt.Sprint(st.Policies) != fmt.Sprint(want) {
		t.Errorf("Policies = %+v, want %+v", st.Policies, want)
	}
}

func TestEngine_ContextSeesLiveAgents(t *testing.T) {
	e, b, agents := newTestEngine(t)

	var seen []int
	e.Register(&Rule{
		RuleID: "count-agents",
		Then: func(ctx context.Context, msg *bus.Message, pc *Context) error {
			seen = append(seen, pc.AgentCount())
			return nil
		},
	})

	publish(t, b, bus.Message{Type: "doc"})
	agents.Register(registry.NewFunc("writer", "Writer", []string{"doc"}, nil))
	publish(t, b, bus.Message{Type: "doc"})

	if fmt.Sprint(seen) != "[0 1]" {
		t.Errorf("agent counts = %v, want [0 1]", seen)
	}
	if _, ok := e.Context().Agent("writer"); !ok {
		t.Error("context should look agents up in the live registry")
	}
	if e.Context().QueueLen() != 2 {
		t.Errorf("QueueLen() = %d, want 2", e.Context().QueueLen())
	}
	if e.Context().SystemID() != "s1" {
		t.Errorf("SystemID() = %q", e.Context().SystemID())
	}
}

func TestEngine_Close(t *testing.T) {
	e, b, _ := newTestEngine(t)

	ran := 0
	e.Register(&Rule{RuleID: "p", Then: func(ctx context.Context, msg *bus.Message, pc *Context) error {
		ran++
		return nil
	}})

	e.Close()
	e.Close()
	publish(t, b, bus.Message{Type: "doc"})

	if ran != 0 {
		t.Error("closed engine should not observe messages")
	}
	if b.Statistics().SubscriberTopics != 0 {
		t.Error("Close should remove the wildcard subscription")
	}
}

func TestContext_ScratchAndViolations(t *testing.T) {
	pc := newContext("s1", nil, nil, 2)

	pc.Set("k", "v")
	if v, ok := pc.Get("k"); !ok || v != "v" {
		t.Errorf("Get(k) = %v, %v", v, ok)
	}
	pc.Incr("n")
	if got := pc.Incr("n"); got != 2 {
		t.Errorf("Incr = %d, want 2", got)
	}

	for i := 0; i < 3; i++ {
		pc.Violate(Violation{PolicyID: fmt.Sprintf("p%d", i)})
	}
	v := pc.Violations()
	if len(v) != 2 || v[0].PolicyID != "p1" {
		t.Errorf("violations = %+v, want the newest two", v)
	}
	if v[0].Time.IsZero() {
		t.Error("Violate should stamp a time")
	}

	if pc.Agents() != nil || pc.AgentCount() != 0 || pc.QueueLen() != 0 {
		t.Error("nil views should read as empty")
	}
}
