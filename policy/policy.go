// Package policy provides the engine that checks every bus message against a
// prioritized set of policies.
//
// The engine subscribes to the bus wildcard topic, so policies see each
// message once, at publish time, whether or not it is ever dispatched.
package policy

import (
	"context"
	"path"

	"github.com/vinayprograms/swarmkit/bus"
)

// Policy is a predicate-and-action pair evaluated against every message.
type Policy interface {
	ID() string
	Name() string

	// Priority orders evaluation; higher runs first.
	Priority() int

	// Match reports whether Apply should run for msg.
	Match(msg *bus.Message, pc *Context) (bool, error)

	// Apply acts on a matched message.
	Apply(ctx context.Context, msg *bus.Message, pc *Context) error
}

// Enabler is implemented by policies that start disabled.
// Policies that do not implement it start enabled.
type Enabler interface {
	Enabled() bool
}

// MatchFunc is a policy predicate.
type MatchFunc func(msg *bus.Message, pc *Context) (bool, error)

// ApplyFunc is a policy action.
type ApplyFunc func(ctx context.Context, msg *bus.Message, pc *Context) error

// Rule is a Policy assembled from functions.
type Rule struct {
	RuleID       string
	RuleName     string
	RulePriority int

	// Disabled registers the rule without enabling it.
	Disabled bool

	// When defaults to matching every message.
	When MatchFunc

	// Then defaults to doing nothing.
	Then ApplyFunc
}

func (r *Rule) ID() string    { return r.RuleID }
func (r *Rule) Priority() int { return r.RulePriority }
func (r *Rule) Enabled() bool { return !r.Disabled }

// Name returns RuleName, falling back to the id.
func (r *Rule) Name() string {
	if r.RuleName == "" {
		return r.RuleID
	}
	return r.RuleName
}

func (r *Rule) Match(msg *bus.Message, pc *Context) (bool, error) {
	if r.When == nil {
		return true, nil
	}
	return r.When(msg, pc)
}

func (r *Rule) Apply(ctx context.Context, msg *bus.Message, pc *Context) error {
	if r.Then == nil {
		return nil
	}
	return r.Then(ctx, msg, pc)
}

// PolicyInfo describes a registered policy.
type PolicyInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// Status is a point-in-time view of an engine.
type Status struct {
	Total      int          `json:"total"`
	Enabled    int          `json:"enabled"`
	Policies   []PolicyInfo `json:"policies"`
	Counters   Counters     `json:"counters"`
	Violations []Violation  `json:"violations,omitempty"`
}

// matchPattern matches a message field against a pattern.
// "*" matches anything; other patterns use path.Match, so "task.*" matches
// "task.created".
func matchPattern(pattern, value string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	matched, _ := path.Match(pattern, value)
	return matched
}

// matchAny reports whether value matches one of patterns. An empty pattern
// list matches everything.
func matchAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchPattern(p, value) {
			return true
		}
	}
	return false
}
