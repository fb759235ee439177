package datamodel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/ql/datamodel"
)

func TestParseEntityWithFieldsIndexAndFlags(t *testing.T) {
	src := `
chat.Message (full_text: false) {
  content: String nullable
  author: String default "system"
  tags: [chat.Tag]
  index(author, content)
  @deprecated legacy: Integer nullable
}
`
	f, err := datamodel.Parse(src)
	require.NoError(t, err)
	require.Len(t, f.Entities, 1)

	e := f.Entities[0]
	assert.Equal(t, "chat.Message", e.Name)
	require.Len(t, e.Flags, 1)
	assert.Equal(t, "full_text", e.Flags[0].Name)
	require.Len(t, e.Indices, 1)
	assert.Equal(t, []string{"author", "content"}, e.Indices[0].Columns)

	require.Len(t, e.Fields, 4)
	assert.Equal(t, "content", e.Fields[0].Name)
	assert.True(t, e.Fields[0].Type.Nullable)
	assert.Equal(t, "author", e.Fields[1].Name)
	require.NotNil(t, e.Fields[1].Type.Default)
	assert.Equal(t, "system", e.Fields[1].Type.Default.Str)
	assert.Equal(t, "chat.Tag", e.Fields[2].Type.ArrayOf)

	require.Len(t, e.Indices, 1)
}

func TestParseRejectsMissingFieldType(t *testing.T) {
	_, err := datamodel.Parse(`chat.Message { content: }`)
	require.Error(t, err)
}

func TestParseRejectsUnterminatedEntity(t *testing.T) {
	_, err := datamodel.Parse(`chat.Message { content: String`)
	require.Error(t, err)
}
