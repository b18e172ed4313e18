package workflow

import (
	"fmt"

	"github.com/c360/journeykit/errors"
)

// StepKind discriminates the step config union
type StepKind string

const (
	KindMessage   StepKind = "message"
	KindWait      StepKind = "wait"
	KindCondition StepKind = "condition"
	KindAction    StepKind = "action"
	KindSplitTest StepKind = "split_test"
)

// Connection labels. Condition steps route on LabelTrue/LabelFalse; every
// other step takes its LabelDefault edge.
const (
	LabelDefault = "default"
	LabelTrue    = "true"
	LabelFalse   = "false"
)

// Step is one node in the workflow graph. Exactly one of the kind-specific
// config pointers must be set, matching Kind.
type Step struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Kind StepKind `json:"kind"`

	Message   *MessageConfig   `json:"message,omitempty"`
	Wait      *WaitConfig      `json:"wait,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	SplitTest *SplitTestConfig `json:"split_test,omitempty"`

	// Retry overrides the engine default for transient collaborator
	// failures on this step. Nil means use the default policy.
	Retry *errors.RetryPolicy `json:"retry,omitempty"`
}

// MessageConfig configures a message send step
type MessageConfig struct {
	TemplateID string `json:"template_id"`
	Channel    string `json:"channel,omitempty"` // email, sms; defaults to email
	Subject    string `json:"subject,omitempty"`
}

func (c *MessageConfig) validate() error {
	if c.TemplateID == "" {
		return fmt.Errorf("message step requires template_id")
	}
	return nil
}

// WaitUnit is the time unit of a wait step
type WaitUnit string

const (
	UnitMinutes WaitUnit = "minutes"
	UnitHours   WaitUnit = "hours"
	UnitDays    WaitUnit = "days"
	UnitWeeks   WaitUnit = "weeks"
)

// WaitConfig configures a durable delay step
type WaitConfig struct {
	Duration int      `json:"duration"`
	Unit     WaitUnit `json:"unit"`
}

func (c *WaitConfig) validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("wait duration must be positive, got %d", c.Duration)
	}
	switch c.Unit {
	case UnitMinutes, UnitHours, UnitDays, UnitWeeks:
		return nil
	default:
		return fmt.Errorf("unknown wait unit %q", c.Unit)
	}
}

// Operator is a condition predicate comparison
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

func (op Operator) valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpLessThan, OpExists, OpNotExists:
		return true
	}
	return false
}

// FieldScope names where a predicate field is resolved from
type FieldScope string

const (
	ScopeContact FieldScope = "contact"
	ScopeContext FieldScope = "context"
)

// FieldRef is a structured reference to a value in the execution's contact
// snapshot or context map
type FieldRef struct {
	Scope FieldScope `json:"scope"`
	Name  string     `json:"name"`
}

func (f FieldRef) validate() error {
	if f.Name == "" {
		return fmt.Errorf("field reference requires a name")
	}
	switch f.Scope {
	case ScopeContact, ScopeContext:
		return nil
	default:
		return fmt.Errorf("unknown field scope %q", f.Scope)
	}
}

// LogicalOperator joins a predicate to the overall evaluation. OR makes a
// matching predicate short-circuit the whole condition to true.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Predicate is one ordered comparison in a condition step
type Predicate struct {
	Field    FieldRef        `json:"field"`
	Operator Operator        `json:"operator"`
	Value    any             `json:"value,omitempty"`
	Logical  LogicalOperator `json:"logical,omitempty"` // empty means AND
}

// ConditionConfig configures a branch step. An empty predicate list
// evaluates to true.
type ConditionConfig struct {
	Predicates []Predicate `json:"predicates,omitempty"`
}

func (c *ConditionConfig) validate() error {
	for i, p := range c.Predicates {
		if err := p.Field.validate(); err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
		if !p.Operator.valid() {
			return fmt.Errorf("predicate %d: unknown operator %q", i, p.Operator)
		}
		switch p.Logical {
		case "", LogicalAnd, LogicalOr:
		default:
			return fmt.Errorf("predicate %d: unknown logical operator %q", i, p.Logical)
		}
	}
	return nil
}

// ActionType discriminates what an action step does
type ActionType string

const (
	ActionAddTag      ActionType = "add_tag"
	ActionRemoveTag   ActionType = "remove_tag"
	ActionUpdateField ActionType = "update_field"
	ActionWebhook     ActionType = "webhook"
)

// ActionConfig configures a contact mutation or webhook call
type ActionConfig struct {
	Type       ActionType `json:"type"`
	Tag        string     `json:"tag,omitempty"`
	Field      string     `json:"field,omitempty"`
	Value      any        `json:"value,omitempty"`
	WebhookURL string     `json:"webhook_url,omitempty"`
}

func (c *ActionConfig) validate() error {
	switch c.Type {
	case ActionAddTag, ActionRemoveTag:
		if c.Tag == "" {
			return fmt.Errorf("%s action requires a tag", c.Type)
		}
	case ActionUpdateField:
		if c.Field == "" {
			return fmt.Errorf("update_field action requires a field name")
		}
	case ActionWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("webhook action requires a URL")
		}
	default:
		return fmt.Errorf("unknown action type %q", c.Type)
	}
	return nil
}

// Variant is one arm of a split test
type Variant struct {
	Name    string        `json:"name"`
	Percent int           `json:"percent"`
	Message MessageConfig `json:"message"`
}

// SplitTestConfig configures deterministic variant assignment. Percentages
// must sum to exactly 100.
type SplitTestConfig struct {
	Variants []Variant `json:"variants"`
}

func (c *SplitTestConfig) validate() error {
	if len(c.Variants) == 0 {
		return fmt.Errorf("split test requires at least one variant")
	}
	total := 0
	for i, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant %d: name required", i)
		}
		if v.Percent <= 0 {
			return fmt.Errorf("variant %q: percent must be positive", v.Name)
		}
		if err := v.Message.validate(); err != nil {
			return fmt.Errorf("variant %q: %w", v.Name, err)
		}
		total += v.Percent
	}
	if total != 100 {
		return fmt.Errorf("variant percentages sum to %d, want 100", total)
	}
	return nil
}

// Validate checks the step has exactly the config its kind requires
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step requires an id")
	}

	configs := 0
	for _, set := range []bool{
		s.Message != nil, s.Wait != nil, s.Condition != nil,
		s.Action != nil, s.SplitTest != nil,
	} {
		if set {
			configs++
		}
	}
	if configs != 1 {
		return fmt.Errorf("step %s: want exactly one config, got %d", s.ID, configs)
	}

	switch s.Kind {
	case KindMessage:
		if s.Message == nil {
			return fmt.Errorf("step %s: kind message requires message config", s.ID)
		}
		return s.Message.validate()
	case KindWait:
		if s.Wait == nil {
			return fmt.Errorf("step %s: kind wait requires wait config", s.ID)
		}
		return s.Wait.validate()
	case KindCondition:
		if s.Condition == nil {
			return fmt.Errorf("step %s: kind condition requires condition config", s.ID)
		}
		return s.Condition.validate()
	case KindAction:
		if s.Action == nil {
			return fmt.Errorf("step %s: kind action requires action config", s.ID)
		}
		return s.Action.validate()
	case KindSplitTest:
		if s.SplitTest == nil {
			return fmt.Errorf("step %s: kind split_test requires split_test config", s.ID)
		}
		return s.SplitTest.validate()
	default:
		return fmt.Errorf("step %s: unknown kind %q", s.ID, s.Kind)
	}
}
