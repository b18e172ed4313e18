package workflowstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/workflow"
)

func draftDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID:      "wf-welcome",
		OwnerID: "acct-1",
		Name:    "Welcome",
		Status:  workflow.StatusDraft,
		Trigger: workflow.TriggerSpec{Event: "contact.created"},
		Steps: []workflow.Step{
			{ID: "s1", Kind: workflow.KindMessage, Message: &workflow.MessageConfig{TemplateID: "tpl-1"}},
		},
	}
}

func TestPublishAssignsVersions(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	v1, err := store.Publish(ctx, draftDefinition())
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	// Content edit publishes a new version.
	edited := draftDefinition()
	edited.Name = "Welcome v2"
	v2, err := store.Publish(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.CreatedAt, v2.CreatedAt)

	head, err := store.Get(ctx, "wf-welcome")
	require.NoError(t, err)
	assert.Equal(t, 2, head.Version)
	assert.Equal(t, "Welcome v2", head.Name)
}

func TestPublishRejectsInvalidDefinition(t *testing.T) {
	store := NewMemory()
	bad := draftDefinition()
	bad.Steps = nil

	_, err := store.Publish(context.Background(), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyDefinition)
}

func TestGetVersionIsPinned(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	_, err := store.Publish(ctx, draftDefinition())
	require.NoError(t, err)

	edited := draftDefinition()
	edited.Steps[0].Message.TemplateID = "tpl-2"
	_, err = store.Publish(ctx, edited)
	require.NoError(t, err)

	// A running execution pinned to v1 still sees the original template.
	pinned, err := store.GetVersion(ctx, "wf-welcome", 1)
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", pinned.Steps[0].Message.TemplateID)

	latest, err := store.GetVersion(ctx, "wf-welcome", 2)
	require.NoError(t, err)
	assert.Equal(t, "tpl-2", latest.Steps[0].Message.TemplateID)

	_, err = store.GetVersion(ctx, "wf-welcome", 9)
	assert.ErrorIs(t, err, errors.ErrVersionNotFound)
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_, err := store.Publish(ctx, draftDefinition())
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, "wf-welcome", workflow.StatusActive))
	require.NoError(t, store.UpdateStatus(ctx, "wf-welcome", workflow.StatusPaused))
	require.NoError(t, store.UpdateStatus(ctx, "wf-welcome", workflow.StatusActive))

	// Active cannot go back to draft.
	err = store.UpdateStatus(ctx, "wf-welcome", workflow.StatusDraft)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	require.NoError(t, store.UpdateStatus(ctx, "wf-welcome", workflow.StatusArchived))
	err = store.UpdateStatus(ctx, "wf-welcome", workflow.StatusActive)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "ghost", workflow.StatusActive),
		errors.ErrVersionNotFound)
}

func TestList(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	a := draftDefinition()
	a.ID = "wf-a"
	b := draftDefinition()
	b.ID = "wf-b"
	_, err := store.Publish(ctx, a)
	require.NoError(t, err)
	_, err = store.Publish(ctx, b)
	require.NoError(t, err)

	defs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "wf-a", defs[0].ID)
	assert.Equal(t, "wf-b", defs[1].ID)
}
