package planner_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/planner"
	"github.com/discretlib/discret-go/ql/query"
	"github.com/discretlib/discret-go/schema"
)

func newRegistry(t *testing.T) (*schema.Registry, schema.Version) {
	t.Helper()
	reg := schema.New()
	v, err := reg.Update(`chat.Message { content: String room: String meta: Json nullable }`)
	require.NoError(t, err)
	return reg, v
}

func parseQuery(t *testing.T, src string) *query.File {
	t.Helper()
	f, err := query.Parse(src)
	require.NoError(t, err)
	return f
}

func TestLowerDefaultsOrderAndScopesRoom(t *testing.T) {
	reg, v := newRegistry(t)
	f := parseQuery(t, `query { chat.Message { id content } }`)

	plan, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1", "r2"}})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "room_id IN (?,?)")
	require.Contains(t, plan.SQL, "ORDER BY mdate ASC, id ASC")
	require.Equal(t, []interface{}{"r1", "r2"}, plan.Args)
}

func TestLowerRejectsFirstWithoutOrderBy(t *testing.T) {
	reg, v := newRegistry(t)
	f := parseQuery(t, `query { chat.Message (first 10) { id } }`)

	_, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1"}})
	require.Error(t, err)
}

func TestLowerFirstWithOrderByIsLimit(t *testing.T) {
	reg, v := newRegistry(t)
	f := parseQuery(t, `query { chat.Message (order_by(mdate asc, id asc), first 10) { id } }`)

	plan, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1"}})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "LIMIT 10")
}

func TestLowerAfterBuildsCompositeCursor(t *testing.T) {
	reg, v := newRegistry(t)
	f := parseQuery(t, `query { chat.Message (order_by(mdate asc, id asc), after(100, "row-1")) { id } }`)

	plan, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1"}})
	require.NoError(t, err)
	require.True(t, strings.Contains(plan.SQL, "mdate > ?") && strings.Contains(plan.SQL, "mdate = ? AND id > ?"))
}

func TestLowerJSONProjectionAndFilter(t *testing.T) {
	reg, v := newRegistry(t)
	f := parseQuery(t, `query { chat.Message (meta->$.a.b[2] = 5) { tag: meta->$.a.b[2] } }`)

	plan, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1"}})
	require.NoError(t, err)
	require.Contains(t, plan.SQL, "json_extract(meta, '$.a.b[2]') = ?")
	require.Len(t, plan.Projections, 1)
	require.Equal(t, planner.ProjJSON, plan.Projections[0].Kind)
}

func TestLowerRejectsMixedAggregateAndPlain(t *testing.T) {
	reg, v := newRegistry(t)
	f := parseQuery(t, `query { chat.Message { id c: count(id) } }`)

	_, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1"}})
	require.Error(t, err)
}

func TestLowerNestedSkipsRoomFilter(t *testing.T) {
	reg, _ := newRegistry(t)
	v, err := reg.Update(`chat.Thread { title: String msgs: [chat.Message] }`)
	require.NoError(t, err)
	f := parseQuery(t, `query { chat.Thread { title msgs: chat.Message { id } } }`)

	plan, err := planner.Lower(reg, v, f.Entities[0], nil, planner.RoomScope{AllowedRooms: []string{"r1"}})
	require.NoError(t, err)
	require.Len(t, plan.Projections, 2)
	nested := plan.Projections[1]
	require.Equal(t, planner.ProjNested, nested.Kind)
	require.NotContains(t, nested.Nested.SQL, "room_id")
}
