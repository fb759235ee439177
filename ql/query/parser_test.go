package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/ql/query"
)

func TestParseQueryWithParamsAndProjections(t *testing.T) {
	src := `
query {
  chat.Message (order_by(mdate asc, id asc), first 10, room_id = $room, nullable(content)) {
    id
    when: mdate
    excerpt: content->$.body[0]
    room: chat.Room (order_by(mdate asc)) {
      id
    }
    total: count(id)
  }
}
`
	f, err := query.Parse(src)
	require.NoError(t, err)
	require.Len(t, f.Entities, 1)

	sq := f.Entities[0]
	assert.Equal(t, "chat.Message", sq.Entity)
	require.Len(t, sq.Params.OrderBy, 2)
	assert.False(t, sq.Params.OrderBy[0].Desc)
	require.NotNil(t, sq.Params.First)
	require.Len(t, sq.Params.Filters, 1)
	assert.Equal(t, "room_id", sq.Params.Filters[0].Field)
	assert.Equal(t, query.OpEq, sq.Params.Filters[0].Op)
	assert.Equal(t, []string{"content"}, sq.Params.NullableOK)

	require.Len(t, sq.Fields, 5)
	assert.Equal(t, query.ProjPlain, sq.Fields[0].Kind)
	assert.Equal(t, "mdate", sq.Fields[1].Column)
	assert.Equal(t, query.ProjJSON, sq.Fields[2].Kind)
	assert.Equal(t, "$.body[0]", sq.Fields[2].JSONPath)
	assert.Equal(t, query.ProjNested, sq.Fields[3].Kind)
	assert.Equal(t, query.ProjAggregate, sq.Fields[4].Kind)
	assert.Equal(t, query.AggCount, sq.Fields[4].Agg)
}

func TestParseArrayIndexSelector(t *testing.T) {
	src := `query { chat.Message (order_by(mdate asc)) { first_tag: tags->0 } }`
	f, err := query.Parse(src)
	require.NoError(t, err)
	pf := f.Entities[0].Fields[0]
	require.NotNil(t, pf.ArrayIndex)
	assert.Equal(t, 0, *pf.ArrayIndex)
}

func TestParseSubscription(t *testing.T) {
	src := `subscription { chat.Message (order_by(mdate asc)) { id } }`
	f, err := query.Parse(src)
	require.NoError(t, err)
	assert.Equal(t, query.OpSubscription, f.Operation)
}
