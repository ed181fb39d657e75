package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *NodeStore {
	t.Helper()
	s, err := NewNodeStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNodeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(txn *Txn) error {
		return txn.PutNode(&Node{
			ID:   "u1",
			Type: "User",
			Fields: map[string]interface{}{
				"id":    "u1",
				"name":  "Sarah",
				"score": int64(42),
			},
		})
	})
	require.NoError(t, err)

	err = s.View(func(txn *Txn) error {
		node, err := txn.GetNode("User", "u1")
		require.NoError(t, err)
		assert.Equal(t, "Sarah", node.Fields["name"])
		assert.EqualValues(t, 42, node.Fields["score"])

		_, err = txn.GetNode("User", "missing")
		assert.ErrorIs(t, err, ErrNodeNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestUniqueClaims(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(txn *Txn) error {
		return txn.ClaimUnique("User", "email", "sarah@example.com", "u1")
	})
	require.NoError(t, err)

	// The same owner may re-claim its own value.
	err = s.Update(func(txn *Txn) error {
		return txn.ClaimUnique("User", "email", "sarah@example.com", "u1")
	})
	require.NoError(t, err)

	err = s.Update(func(txn *Txn) error {
		return txn.ClaimUnique("User", "email", "sarah@example.com", "u2")
	})
	require.ErrorIs(t, err, ErrUniqueConflict)

	err = s.Update(func(txn *Txn) error {
		if err := txn.ReleaseUnique("User", "email", "sarah@example.com"); err != nil {
			return err
		}
		return txn.ClaimUnique("User", "email", "sarah@example.com", "u2")
	})
	require.NoError(t, err)
}

func TestEdges(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(txn *Txn) error {
		if err := txn.AddEdge("UserPosts", "u1", "p1"); err != nil {
			return err
		}
		return txn.AddEdge("UserPosts", "u1", "p2")
	})
	require.NoError(t, err)

	err = s.View(func(txn *Txn) error {
		fromA, err := txn.EdgesFrom("UserPosts", 'a', "u1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p1", "p2"}, fromA)

		fromB, err := txn.EdgesFrom("UserPosts", 'b', "p1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, fromB)
		return nil
	})
	require.NoError(t, err)

	err = s.Update(func(txn *Txn) error {
		return txn.RemoveEdge("UserPosts", "u1", "p1")
	})
	require.NoError(t, err)

	err = s.View(func(txn *Txn) error {
		fromA, err := txn.EdgesFrom("UserPosts", 'a', "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, fromA)

		fromB, err := txn.EdgesFrom("UserPosts", 'b', "p1")
		require.NoError(t, err)
		assert.Empty(t, fromB)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.Update(func(txn *Txn) error {
		if err := txn.PutNode(&Node{ID: "u1", Type: "User", Fields: map[string]interface{}{}}); err != nil {
			return err
		}
		if err := txn.AddEdge("UserPosts", "u1", "p1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(func(txn *Txn) error {
		_, err := txn.GetNode("User", "u1")
		assert.ErrorIs(t, err, ErrNodeNotFound)

		edges, err := txn.EdgesFrom("UserPosts", 'a', "u1")
		require.NoError(t, err)
		assert.Empty(t, edges)
		return nil
	})
	require.NoError(t, err)
}

func TestScanTypeIsolatesTypes(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(txn *Txn) error {
		for _, n := range []*Node{
			{ID: "u1", Type: "User", Fields: map[string]interface{}{}},
			{ID: "u2", Type: "User", Fields: map[string]interface{}{}},
			{ID: "p1", Type: "Post", Fields: map[string]interface{}{}},
		} {
			if err := txn.PutNode(n); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var ids []string
	err = s.View(func(txn *Txn) error {
		return txn.ScanType("User", func(n *Node) (bool, error) {
			ids = append(ids, n.ID)
			return true, nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
}
