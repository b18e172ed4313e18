// Package contact defines the engine's narrow view of the contact system of
// record: an immutable snapshot plus a mutation capability. The engine never
// edits contacts directly; Action steps go through Store.ApplyMutation so
// the snapshot and the system of record stay reconciled.
package contact

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// SubscriptionStatus is the contact's messaging consent state
type SubscriptionStatus string

const (
	StatusSubscribed   SubscriptionStatus = "subscribed"
	StatusUnsubscribed SubscriptionStatus = "unsubscribed"
	StatusBounced      SubscriptionStatus = "bounced"
	StatusComplained   SubscriptionStatus = "complained"
)

// Suppressed reports whether messages to this contact must be skipped
func (s SubscriptionStatus) Suppressed() bool {
	return s != StatusSubscribed
}

// Snapshot is a point-in-time copy of a contact carried inside an execution
// context. Mutating a snapshot never touches the system of record.
type Snapshot struct {
	ID           string             `json:"id"`
	Email        string             `json:"email"`
	Subscription SubscriptionStatus `json:"subscription"`
	Tags         []string           `json:"tags,omitempty"`
	Fields       map[string]any     `json:"fields,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so concurrent step processors never share maps
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Tags = slices.Clone(s.Tags)
	if s.Fields != nil {
		out.Fields = make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

// HasTag reports whether the snapshot carries the tag
func (s *Snapshot) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Field looks up a custom field, reporting presence separately from value
func (s *Snapshot) Field(name string) (any, bool) {
	if s.Fields == nil {
		return nil, false
	}
	v, ok := s.Fields[name]
	return v, ok
}

// MutationKind discriminates the mutation union
type MutationKind string

const (
	MutationAddTag      MutationKind = "add_tag"
	MutationRemoveTag   MutationKind = "remove_tag"
	MutationUpdateField MutationKind = "update_field"
)

// Mutation is a single contact change requested by an Action step. Exactly
// one of the kind-specific field groups is meaningful.
type Mutation struct {
	Kind  MutationKind `json:"kind"`
	Tag   string       `json:"tag,omitempty"`
	Field string       `json:"field,omitempty"`
	Value any          `json:"value,omitempty"`
}

// Validate checks the mutation is well-formed for its kind
func (m Mutation) Validate() error {
	switch m.Kind {
	case MutationAddTag, MutationRemoveTag:
		if m.Tag == "" {
			return fmt.Errorf("%s mutation requires a tag", m.Kind)
		}
	case MutationUpdateField:
		if m.Field == "" {
			return fmt.Errorf("update_field mutation requires a field name")
		}
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	return nil
}

// Apply applies the mutation to a snapshot in place. Idempotent: adding an
// existing tag or removing a missing one is a no-op.
func (m Mutation) Apply(s *Snapshot) error {
	if err := m.Validate(); err != nil {
		return err
	}

	switch m.Kind {
	case MutationAddTag:
		if !s.HasTag(m.Tag) {
			s.Tags = append(s.Tags, m.Tag)
		}
	case MutationRemoveTag:
		s.Tags = slices.DeleteFunc(s.Tags, func(t string) bool { return t == m.Tag })
	case MutationUpdateField:
		if s.Fields == nil {
			s.Fields = make(map[string]any)
		}
		s.Fields[m.Field] = m.Value
	}
	return nil
}

// Store is the contact capability interface the engine depends on. The real
// implementation lives outside the engine; Memory is used in tests and
// single-process deployments.
type Store interface {
	// Get returns a snapshot of the contact, or ErrContactNotFound.
	Get(ctx context.Context, contactID string) (*Snapshot, error)

	// ApplyMutation applies one change to the system of record. Returns
	// ErrMutationConflict when a concurrent change won.
	ApplyMutation(ctx context.Context, contactID string, m Mutation) (*Snapshot, error)
}
