package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/errors"
)

func validDefinition() *Definition {
	return &Definition{
		ID:      "wf-welcome",
		OwnerID: "acct-1",
		Name:    "Welcome series",
		Version: 1,
		Status:  StatusActive,
		Trigger: TriggerSpec{Event: "contact.created"},
		Steps: []Step{
			{ID: "s1", Kind: KindMessage, Message: &MessageConfig{TemplateID: "tpl-welcome"}},
			{ID: "s2", Kind: KindWait, Wait: &WaitConfig{Duration: 1, Unit: UnitDays}},
			{ID: "s3", Kind: KindCondition, Condition: &ConditionConfig{
				Predicates: []Predicate{{
					Field:    FieldRef{Scope: ScopeContext, Name: "opened_welcome"},
					Operator: OpEquals,
					Value:    true,
				}},
			}},
			{ID: "s4", Kind: KindMessage, Message: &MessageConfig{TemplateID: "tpl-upsell"}},
			{ID: "s5", Kind: KindAction, Action: &ActionConfig{Type: ActionAddTag, Tag: "cold"}},
		},
		Connections: []Connection{
			{SourceStepID: "s1", TargetStepID: "s2"},
			{SourceStepID: "s2", TargetStepID: "s3"},
			{SourceStepID: "s3", TargetStepID: "s4", Label: LabelTrue},
			{SourceStepID: "s3", TargetStepID: "s5", Label: LabelFalse},
		},
		Settings: Settings{MaxExecutionsPerContact: 1, RespectUnsubscribes: true},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	require.NoError(t, validDefinition().Validate())
}

func TestValidateRejectsEmptyStepList(t *testing.T) {
	d := validDefinition()
	d.Steps = nil
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyDefinition)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	d := validDefinition()
	d.Steps[1].ID = "s1"
	// Rewire so the graph shape stays otherwise legal.
	d.Connections = []Connection{{SourceStepID: "s1", TargetStepID: "s3"}}
	d.Steps = d.Steps[:3]
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestValidateRejectsDanglingConnection(t *testing.T) {
	d := validDefinition()
	d.Connections = append(d.Connections, Connection{SourceStepID: "s5", TargetStepID: "ghost"})
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDanglingEdge)
}

func TestValidateRequiresExactlyOneEntry(t *testing.T) {
	// No entry: close the graph into a cycle.
	d := validDefinition()
	d.Connections = append(d.Connections,
		Connection{SourceStepID: "s4", TargetStepID: "s1"},
		Connection{SourceStepID: "s5", TargetStepID: "s1"},
	)
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoEntryStep)

	// Multiple entries: disconnect s2 from s1.
	d = validDefinition()
	d.Connections = d.Connections[1:]
	err = d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMultipleEntries)
}

func TestValidateRejectsKindConfigMismatch(t *testing.T) {
	d := validDefinition()
	d.Steps[0].Message = nil
	d.Steps[0].Wait = &WaitConfig{Duration: 1, Unit: UnitDays}
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind message requires message config")

	d = validDefinition()
	d.Steps[0].Wait = &WaitConfig{Duration: 1, Unit: UnitDays}
	err = d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one config")
}

func TestValidateSplitTestPercentages(t *testing.T) {
	d := validDefinition()
	d.Steps[0] = Step{ID: "s1", Kind: KindSplitTest, SplitTest: &SplitTestConfig{
		Variants: []Variant{
			{Name: "A", Percent: 50, Message: MessageConfig{TemplateID: "tpl-a"}},
			{Name: "B", Percent: 40, Message: MessageConfig{TemplateID: "tpl-b"}},
		},
	}}
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 90")

	d.Steps[0].SplitTest.Variants[1].Percent = 50
	require.NoError(t, d.Validate())
}

func TestValidateConditionPredicates(t *testing.T) {
	d := validDefinition()
	d.Steps[2].Condition.Predicates[0].Operator = "like"
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")

	d = validDefinition()
	d.Steps[2].Condition.Predicates[0].Field.Scope = "session"
	err = d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field scope")

	// Empty predicate list is legal: it evaluates to true.
	d = validDefinition()
	d.Steps[2].Condition.Predicates = nil
	require.NoError(t, d.Validate())
}

func TestValidateWaitConfig(t *testing.T) {
	d := validDefinition()
	d.Steps[1].Wait.Duration = 0
	assert.Error(t, d.Validate())

	d.Steps[1].Wait = &WaitConfig{Duration: 2, Unit: "fortnights"}
	assert.Error(t, d.Validate())
}

func TestValidateActionConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ActionConfig
		wantErr bool
	}{
		{"add tag", ActionConfig{Type: ActionAddTag, Tag: "vip"}, false},
		{"add tag missing", ActionConfig{Type: ActionAddTag}, true},
		{"update field", ActionConfig{Type: ActionUpdateField, Field: "plan", Value: "pro"}, false},
		{"update field missing", ActionConfig{Type: ActionUpdateField}, true},
		{"webhook", ActionConfig{Type: ActionWebhook, WebhookURL: "https://example.com/hook"}, false},
		{"webhook missing url", ActionConfig{Type: ActionWebhook}, true},
		{"unknown", ActionConfig{Type: "notify"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			cfg := tt.cfg
			d.Steps[4].Action = &cfg
			err := d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntryStep(t *testing.T) {
	d := validDefinition()
	entry, err := d.EntryStep()
	require.NoError(t, err)
	assert.Equal(t, "s1", entry.ID)
}

func TestStepByID(t *testing.T) {
	d := validDefinition()

	step, err := d.StepByID("s3")
	require.NoError(t, err)
	assert.Equal(t, KindCondition, step.Kind)

	_, err = d.StepByID("ghost")
	assert.ErrorIs(t, err, errors.ErrStepNotFound)
}

func TestNextStep(t *testing.T) {
	d := validDefinition()

	next, ok := d.NextStep("s1", LabelDefault)
	require.True(t, ok)
	assert.Equal(t, "s2", next)

	next, ok = d.NextStep("s3", LabelTrue)
	require.True(t, ok)
	assert.Equal(t, "s4", next)

	next, ok = d.NextStep("s3", LabelFalse)
	require.True(t, ok)
	assert.Equal(t, "s5", next)

	// Terminal step has no outgoing edges.
	_, ok = d.NextStep("s5", LabelDefault)
	assert.False(t, ok)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransition(StatusActive))
	assert.True(t, StatusDraft.CanTransition(StatusArchived))
	assert.False(t, StatusDraft.CanTransition(StatusPaused))

	assert.True(t, StatusActive.CanTransition(StatusPaused))
	assert.True(t, StatusActive.CanTransition(StatusArchived))
	assert.False(t, StatusActive.CanTransition(StatusDraft))

	assert.True(t, StatusPaused.CanTransition(StatusActive))
	assert.True(t, StatusPaused.CanTransition(StatusArchived))

	assert.False(t, StatusArchived.CanTransition(StatusActive))
	assert.False(t, StatusArchived.CanTransition(StatusDraft))
}

func TestVersionKey(t *testing.T) {
	assert.Equal(t, "wf-welcome.v3", VersionKey("wf-welcome", 3))
}
