package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/errors"
)

func TestRenderSubstitutesData(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Register("tpl-welcome",
		"Welcome, {{.first_name}}!",
		"Hi {{.first_name}}, thanks for joining {{.product}}."))

	content, err := m.Render(context.Background(), "tpl-welcome", map[string]any{
		"first_name": "Ada",
		"product":    "JourneyKit",
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome, Ada!", content.Subject)
	assert.Equal(t, "Hi Ada, thanks for joining JourneyKit.", content.Body)
}

func TestRenderUnknownTemplate(t *testing.T) {
	m := NewMemory()
	_, err := m.Render(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, errors.ErrTemplateNotFound)
}

func TestRegisterRejectsBadTemplate(t *testing.T) {
	m := NewMemory()
	err := m.Register("bad", "{{.unclosed", "body")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
