package mutation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/ql/mutation"
)

func TestParseNestedMutation(t *testing.T) {
	src := `
mutate {
  chat.Message {
    content: $content
    room_id: $room
    author_ref: chat.User {
      name: "alice"
    }
    attachments: [
      chat.Attachment { url: "a" },
      chat.Attachment { url: "b" }
    ]
  }
}
`
	f, err := mutation.Parse(src)
	require.NoError(t, err)
	require.Len(t, f.Blocks, 1)

	blk := f.Blocks[0]
	assert.Equal(t, "chat.Message", blk.Entity)
	require.Len(t, blk.Fields, 4)

	assert.Equal(t, "content", blk.Fields[0].Field)
	assert.Equal(t, "content", blk.Fields[0].Value.Scalar.VarName)

	nestedAssign := blk.Fields[2]
	require.Equal(t, mutation.ValNested, nestedAssign.Value.Kind)
	assert.Equal(t, "chat.User", nestedAssign.Value.Nested.Entity)

	arrAssign := blk.Fields[3]
	require.Equal(t, mutation.ValArray, arrAssign.Value.Kind)
	require.Len(t, arrAssign.Value.Array, 2)
}

func TestParseRejectsDuplicateField(t *testing.T) {
	_, err := mutation.Parse(`mutate { chat.Message { content: "a" content: "b" } }`)
	require.Error(t, err)
}
