package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/schema"
)

func TestUpdateAllowsAddAndWidensNullability(t *testing.T) {
	r := schema.New()
	v1, err := r.Update(`chat.Message { content: String }`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v1)

	v2, err := r.Update(`chat.Message { content: String nullable }`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v2)

	// Old rows at v1 remain resolvable and valid.
	e1, ok := r.Resolve("chat.Message", v1)
	require.True(t, ok)
	f1, _ := e1.Field("content")
	assert.False(t, f1.Type.Nullable)

	e2, ok := r.Resolve("chat.Message", v2)
	require.True(t, ok)
	f2, _ := e2.Field("content")
	assert.True(t, f2.Type.Nullable)
}

func TestUpdateRejectsNarrowingNullability(t *testing.T) {
	r := schema.New()
	_, err := r.Update(`chat.Message { content: String nullable }`)
	require.NoError(t, err)

	_, err = r.Update(`chat.Message { content: String }`)
	require.Error(t, err)
}

func TestUpdateRejectsScalarTypeChange(t *testing.T) {
	r := schema.New()
	_, err := r.Update(`chat.Message { content: String }`)
	require.NoError(t, err)

	_, err = r.Update(`chat.Message { content: Integer }`)
	require.Error(t, err)
}

func TestUpdateRejectsFieldRemoval(t *testing.T) {
	r := schema.New()
	_, err := r.Update(`chat.Message { content: String room: String }`)
	require.NoError(t, err)

	_, err = r.Update(`chat.Message { content: String }`)
	require.Error(t, err)
}

func TestUpdateAllowsDeprecation(t *testing.T) {
	r := schema.New()
	_, err := r.Update(`chat.Message { content: String room: String }`)
	require.NoError(t, err)

	_, err = r.Update(`chat.Message { content: String @deprecated room: String }`)
	require.NoError(t, err)
}
