package syncproto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/rowmodel"
)

func TestShouldCommitRejectsUpdateAfterTombstone(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	existing := &rowmodel.Row{ID: "r1", MDate: 100, Author: pub, Deleted: true}
	incoming := &rowmodel.Row{ID: "r1", MDate: 200, Author: pub, Deleted: false}
	require.False(t, shouldCommit(incoming, existing))
}

func TestShouldCommitLaterTombstoneDominates(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	existing := &rowmodel.Row{ID: "r1", MDate: 100, Author: pub, Deleted: false}
	incoming := &rowmodel.Row{ID: "r1", MDate: 200, Author: pub, Deleted: true}
	require.True(t, shouldCommit(incoming, existing))
}

func TestShouldCommitNewRowAlwaysCommits(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	incoming := &rowmodel.Row{ID: "r1", MDate: 1, Author: pub}
	require.True(t, shouldCommit(incoming, nil))
}
