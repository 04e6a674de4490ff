package policy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/ratelimit"
)

// Kind selects what a declarative rule does with a matched message.
type Kind string

const (
	// KindDeny records a violation for every matched message.
	KindDeny Kind = "deny"

	// KindAudit logs every matched message.
	KindAudit Kind = "audit"

	// KindRateLimit records a violation when a sender exceeds Limit
	// messages per Window.
	KindRateLimit Kind = "rate_limit"

	// KindTag counts matched messages in a context scratch value.
	KindTag Kind = "tag"
)

// RuleSpec is the declarative form of a policy, as written in TOML:
//
//	[[rule]]
//	id = "deny-exec"
//	kind = "deny"
//	priority = 100
//	types = ["exec", "shell.*"]
//	reason = "execution requests are not accepted"
type RuleSpec struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Kind     Kind   `toml:"kind"`
	Priority int    `toml:"priority"`

	// Enabled defaults to true when omitted.
	Enabled *bool `toml:"enabled"`

	// Types, Senders and Recipients are glob patterns; empty matches all.
	Types      []string `toml:"types"`
	Senders    []string `toml:"senders"`
	Recipients []string `toml:"recipients"`

	// MinPriority skips messages ranked below it.
	MinPriority string `toml:"min_priority"`

	Reason string `toml:"reason"`

	// Limit and Window configure rate_limit rules.
	Limit  int    `toml:"limit"`
	Window string `toml:"window"`

	// Key names the counter a tag rule increments. Defaults to
	// "tag:<id>:<message type>".
	Key string `toml:"key"`
}

// rulesFile is the TOML representation.
type rulesFile struct {
	Rules []RuleSpec `toml:"rule"`
}

// LoadRules loads rule specs from a TOML file.
func LoadRules(path string) ([]RuleSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(string(content))
}

// ParseRules parses and validates [[rule]] blocks from TOML content.
func ParseRules(content string) ([]RuleSpec, error) {
	var f rulesFile
	md, err := toml.Decode(content, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown rule keys: %s", strings.Join(keys, ", "))
	}
	for i, spec := range f.Rules {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
	}
	return f.Rules, nil
}

// Validate checks a spec without building it.
func (s RuleSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch s.Kind {
	case KindDeny, KindAudit, KindTag:
	case KindRateLimit:
		if s.Limit <= 0 {
			return fmt.Errorf("%s: limit must be positive", s.ID)
		}
		if _, err := s.window(); err != nil {
			return fmt.Errorf("%s: %w", s.ID, err)
		}
	case "":
		return fmt.Errorf("%s: kind is required", s.ID)
	default:
		return fmt.Errorf("%s: unknown kind %q", s.ID, s.Kind)
	}
	if _, err := bus.ParsePriority(s.MinPriority); err != nil {
		return fmt.Errorf("%s: %w", s.ID, err)
	}
	return nil
}

func (s RuleSpec) window() (time.Duration, error) {
	if s.Window == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(s.Window)
	if err != nil {
		return 0, fmt.Errorf("invalid window: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	return d, nil
}

// Build turns a spec into a Policy. Audit rules write to logger.
func (s RuleSpec) Build(logger *logging.Logger) (Policy, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	minRank := bus.PriorityLow.Rank()
	if s.MinPriority != "" {
		p, _ := bus.ParsePriority(s.MinPriority)
		minRank = p.Rank()
	}

	r := &Rule{
		RuleID:       s.ID,
		RuleName:     s.Name,
		RulePriority: s.Priority,
		Disabled:     s.Enabled != nil && !*s.Enabled,
		When: func(msg *bus.Message, _ *Context) (bool, error) {
			return msg.Priority.Rank() >= minRank &&
				matchAny(s.Types, msg.Type) &&
				matchAny(s.Senders, msg.Sender) &&
				matchAny(s.Recipients, msg.Recipient), nil
		},
	}

	reason := s.Reason
	switch s.Kind {
	case KindDeny:
		r.Then = func(_ context.Context, msg *bus.Message, pc *Context) error {
			why := reason
			if why == "" {
				why = fmt.Sprintf("message type %q denied", msg.Type)
			}
			pc.Violate(violationFor(s.ID, msg, why))
			return nil
		}

	case KindAudit:
		audit := logger.WithComponent("audit")
		r.Then = func(_ context.Context, msg *bus.Message, pc *Context) error {
			audit.Info("message", map[string]interface{}{
				"rule":      s.ID,
				"id":        msg.ID,
				"type":      msg.Type,
				"sender":    msg.Sender,
				"recipient": msg.Recipient,
				"priority":  string(msg.Priority),
				"system":    pc.SystemID(),
			})
			return nil
		}

	case KindRateLimit:
		window, _ := s.window()
		limiter, err := ratelimit.New(ratelimit.Config{Capacity: s.Limit, Window: window})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.ID, err)
		}
		if reason == "" {
			reason = fmt.Sprintf("more than %d messages per %s", s.Limit, window)
		}
		r.Then = func(_ context.Context, msg *bus.Message, pc *Context) error {
			if !limiter.Allow(msg.Sender) {
				pc.Violate(violationFor(s.ID, msg, reason))
			}
			return nil
		}

	case KindTag:
		r.Then = func(_ context.Context, msg *bus.Message, pc *Context) error {
			key := s.Key
			if key == "" {
				key = "tag:" + s.ID + ":" + msg.Type
			}
			pc.Incr(key)
			return nil
		}
	}

	return r, nil
}

// BuildRules builds every spec, stopping at the first error.
func BuildRules(specs []RuleSpec, logger *logging.Logger) ([]Policy, error) {
	policies := make([]Policy, 0, len(specs))
	for _, s := range specs {
		p, err := s.Build(logger)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// RegisterRules builds and registers specs on the engine. Audit rules log
// through the engine's logger.
func (e *Engine) RegisterRules(specs []RuleSpec) error {
	policies, err := BuildRules(specs, e.logger)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if err := e.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func violationFor(policyID string, msg *bus.Message, reason string) Violation {
	return Violation{
		PolicyID:  policyID,
		MessageID: msg.ID,
		Type:      msg.Type,
		Sender:    msg.Sender,
		Reason:    reason,
		Time:      time.Now(),
	}
}
