package deletion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/ql/deletion"
)

func TestParseDeleteWithArrayRemoval(t *testing.T) {
	src := `
delete {
  chat.Message($id)
  chat.Room($roomId) {
    tags [$t1, $t2]
  }
}
`
	f, err := deletion.Parse(src)
	require.NoError(t, err)
	require.Len(t, f.Blocks, 2)

	assert.Equal(t, "chat.Message", f.Blocks[0].Entity)
	assert.Equal(t, "id", f.Blocks[0].IDVar)
	assert.Empty(t, f.Blocks[0].Removals)

	room := f.Blocks[1]
	assert.Equal(t, "roomId", room.IDVar)
	require.Len(t, room.Removals, 1)
	assert.Equal(t, "tags", room.Removals[0].Field)
	require.Len(t, room.Removals[0].Values, 2)
}

func TestParseRejectsDuplicateArrayField(t *testing.T) {
	src := `delete { chat.Room($id) { tags [$t1] tags [$t2] } }`
	_, err := deletion.Parse(src)
	require.Error(t, err)
}
