package contact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/pkg/clock"
)

func TestSubscriptionSuppressed(t *testing.T) {
	assert.False(t, StatusSubscribed.Suppressed())
	assert.True(t, StatusUnsubscribed.Suppressed())
	assert.True(t, StatusBounced.Suppressed())
	assert.True(t, StatusComplained.Suppressed())
}

func TestSnapshotClone(t *testing.T) {
	original := &Snapshot{
		ID:           "c-1",
		Email:        "a@example.com",
		Subscription: StatusSubscribed,
		Tags:         []string{"vip"},
		Fields:       map[string]any{"plan": "pro"},
	}

	clone := original.Clone()
	clone.Tags = append(clone.Tags, "cold")
	clone.Fields["plan"] = "free"

	assert.Equal(t, []string{"vip"}, original.Tags)
	assert.Equal(t, "pro", original.Fields["plan"])

	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.Clone())
}

func TestMutationValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Mutation
		wantErr bool
	}{
		{"add tag ok", Mutation{Kind: MutationAddTag, Tag: "vip"}, false},
		{"add tag missing tag", Mutation{Kind: MutationAddTag}, true},
		{"remove tag ok", Mutation{Kind: MutationRemoveTag, Tag: "vip"}, false},
		{"update field ok", Mutation{Kind: MutationUpdateField, Field: "plan", Value: "pro"}, false},
		{"update field missing name", Mutation{Kind: MutationUpdateField}, true},
		{"unknown kind", Mutation{Kind: "promote"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMutationApplyIdempotent(t *testing.T) {
	s := &Snapshot{ID: "c-1"}

	add := Mutation{Kind: MutationAddTag, Tag: "vip"}
	require.NoError(t, add.Apply(s))
	require.NoError(t, add.Apply(s))
	assert.Equal(t, []string{"vip"}, s.Tags)

	remove := Mutation{Kind: MutationRemoveTag, Tag: "vip"}
	require.NoError(t, remove.Apply(s))
	require.NoError(t, remove.Apply(s))
	assert.Empty(t, s.Tags)

	update := Mutation{Kind: MutationUpdateField, Field: "score", Value: 10}
	require.NoError(t, update.Apply(s))
	v, ok := s.Field("score")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestMemoryStoreGet(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Snapshot{ID: "c-1", Email: "a@example.com", Subscription: StatusSubscribed})

	got, err := store.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrContactNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Put(&Snapshot{ID: "c-1", Tags: []string{"vip"}})

	got, err := store.Get(context.Background(), "c-1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := store.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, again.Tags)
}

func TestMemoryStoreApplyMutation(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(WithClock(fake))
	store.Put(&Snapshot{ID: "c-1", Subscription: StatusSubscribed})

	updated, err := store.ApplyMutation(context.Background(), "c-1",
		Mutation{Kind: MutationAddTag, Tag: "cold"})
	require.NoError(t, err)
	assert.True(t, updated.HasTag("cold"))
	assert.Equal(t, fake.Now().UTC(), updated.UpdatedAt)

	// The stored contact reflects the change.
	got, err := store.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, got.HasTag("cold"))

	_, err = store.ApplyMutation(context.Background(), "missing",
		Mutation{Kind: MutationAddTag, Tag: "x"})
	assert.ErrorIs(t, err, errors.ErrContactNotFound)

	_, err = store.ApplyMutation(context.Background(), "c-1", Mutation{Kind: "bogus"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
