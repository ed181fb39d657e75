package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexusdb/src/events"
	"nexusdb/src/store"
)

const existingPostID = "cjk1e3t7i1ark0b299pvrge5m"

func TestCreateWithNestedCreateAndConnect(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Create("Post", map[string]interface{}{
		"id":    existingPostID,
		"title": "An existing post",
	})
	require.NoError(t, err)

	user, err := te.exec.Create("User", map[string]interface{}{
		"name":  "Sarah",
		"email": "sarah@example.com",
		"posts": map[string]interface{}{
			"create": []interface{}{
				map[string]interface{}{"title": "First post"},
				map[string]interface{}{"title": "Second post"},
			},
			"connect": []interface{}{
				map[string]interface{}{"id": existingPostID},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, te.countNodes(t, "User"))
	assert.Equal(t, 3, te.countNodes(t, "Post"))
	assert.Len(t, te.linkedIDs(t, "User", "posts", user.ID), 3)
	assert.Contains(t, te.linkedIDs(t, "User", "posts", user.ID), existingPostID)
}

func TestCreateRollsBackWhenConnectTargetMissing(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Create("User", map[string]interface{}{
		"name": "Sarah",
		"posts": map[string]interface{}{
			"create": []interface{}{
				map[string]interface{}{"title": "First post"},
				map[string]interface{}{"title": "Second post"},
			},
			"connect": []interface{}{
				map[string]interface{}{"id": "no-such-post"},
			},
		},
	})
	require.Error(t, err)

	var me *MutationError
	require.ErrorAs(t, err, &me)

	// Nothing survives the failed mutation, including the two nested
	// creates that had already been applied.
	assert.Equal(t, 0, te.countNodes(t, "User"))
	assert.Equal(t, 0, te.countNodes(t, "Post"))
}

func TestUniqueInvariant(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Create("User", map[string]interface{}{
		"name": "Sarah", "email": "sarah@example.com",
	})
	require.NoError(t, err)

	_, err = te.exec.Create("User", map[string]interface{}{
		"name": "Impostor", "email": "sarah@example.com",
	})
	var me *MutationError
	require.ErrorAs(t, err, &me)
	require.ErrorIs(t, err, store.ErrUniqueConflict)

	assert.Equal(t, 1, te.countNodes(t, "User"))
}

func TestCreateRejectsTypeMismatch(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Create("Post", map[string]interface{}{
		"title": 42,
	})
	var me *MutationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 0, te.countNodes(t, "Post"))
}

func TestCreateRejectsMissingRequiredField(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Create("Post", map[string]interface{}{
		"published": true,
	})
	var me *MutationError
	require.ErrorAs(t, err, &me)
}

func TestUpdateMovesUniqueClaim(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Create("User", map[string]interface{}{
		"name": "Sarah", "email": "sarah@example.com",
	})
	require.NoError(t, err)

	_, err = te.exec.Update("User",
		map[string]interface{}{"email": "sarah@example.com"},
		map[string]interface{}{"email": "sarah@new.example.com"})
	require.NoError(t, err)

	// The old address is free again.
	_, err = te.exec.Create("User", map[string]interface{}{
		"name": "Newcomer", "email": "sarah@example.com",
	})
	require.NoError(t, err)

	// The new address is taken.
	_, err = te.exec.Create("User", map[string]interface{}{
		"name": "Impostor", "email": "sarah@new.example.com",
	})
	require.ErrorIs(t, err, store.ErrUniqueConflict)
}

func TestUpdateIdentityIsImmutable(t *testing.T) {
	te := newTestEngine(t, blogModel)

	user, err := te.exec.Create("User", map[string]interface{}{"name": "Sarah"})
	require.NoError(t, err)

	_, err = te.exec.Update("User",
		map[string]interface{}{"id": user.ID},
		map[string]interface{}{"id": "other-id"})
	var me *MutationError
	require.ErrorAs(t, err, &me)
}

func TestUpdateMissingTargetFails(t *testing.T) {
	te := newTestEngine(t, blogModel)

	_, err := te.exec.Update("User",
		map[string]interface{}{"email": "nobody@example.com"},
		map[string]interface{}{"name": "Nobody"})
	var me *MutationError
	require.ErrorAs(t, err, &me)
}

func TestUpdateManyReturnsCountOnly(t *testing.T) {
	te := newTestEngine(t, blogModel)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := te.exec.Create("User", map[string]interface{}{"name": "U", "email": email})
		require.NoError(t, err)
	}

	sub := te.bus.Subscribe("User")
	defer te.bus.Unsubscribe(sub)

	count, err := te.exec.UpdateMany("User",
		map[string]interface{}{"email_in": []interface{}{"a@example.com", "c@example.com", "ghost@example.com"}},
		map[string]interface{}{"name": "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Batch mutations deliberately suppress per-node events.
	assert.Empty(t, drainEvents(sub))
}

func TestDeleteManyCountAndNoEvents(t *testing.T) {
	te := newTestEngine(t, blogModel)

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := te.exec.Create("User", map[string]interface{}{"name": "U", "email": email})
		require.NoError(t, err)
	}

	sub := te.bus.Subscribe("User")
	defer te.bus.Unsubscribe(sub)

	count, err := te.exec.DeleteMany("User", map[string]interface{}{
		"email_in": []interface{}{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, te.countNodes(t, "User"))
	assert.Empty(t, drainEvents(sub))
}

func TestDeleteManyEmptyMatchIsNotAnError(t *testing.T) {
	te := newTestEngine(t, blogModel)

	count, err := te.exec.DeleteMany("User", map[string]interface{}{
		"email_in": []interface{}{"ghost@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSingleMutationsEmitEvents(t *testing.T) {
	te := newTestEngine(t, blogModel)

	sub := te.bus.Subscribe("User")
	defer te.bus.Unsubscribe(sub)

	user, err := te.exec.Create("User", map[string]interface{}{"name": "Sarah"})
	require.NoError(t, err)

	_, err = te.exec.Update("User",
		map[string]interface{}{"id": user.ID},
		map[string]interface{}{"name": "Sara"})
	require.NoError(t, err)

	_, err = te.exec.Delete("User", map[string]interface{}{"id": user.ID})
	require.NoError(t, err)

	evs := drainEvents(sub)
	require.Len(t, evs, 3)
	assert.Equal(t, events.Created, evs[0].Mutation)
	assert.Equal(t, events.Updated, evs[1].Mutation)
	assert.Equal(t, "Sarah", evs[1].PreviousValues["name"])
	assert.Equal(t, events.Deleted, evs[2].Mutation)
}

func TestFailedMutationEmitsNothing(t *testing.T) {
	te := newTestEngine(t, blogModel)

	sub := te.bus.Subscribe("Post")
	defer te.bus.Unsubscribe(sub)

	_, err := te.exec.Create("User", map[string]interface{}{
		"name": "Sarah",
		"posts": map[string]interface{}{
			"create":  []interface{}{map[string]interface{}{"title": "Doomed"}},
			"connect": []interface{}{map[string]interface{}{"id": "missing"}},
		},
	})
	require.Error(t, err)
	assert.Empty(t, drainEvents(sub))
}

func TestUpdateDisconnectsRelation(t *testing.T) {
	te := newTestEngine(t, blogModel)

	post, err := te.exec.Create("Post", map[string]interface{}{"title": "Hello"})
	require.NoError(t, err)

	user, err := te.exec.Create("User", map[string]interface{}{
		"name": "Sarah",
		"posts": map[string]interface{}{
			"connect": []interface{}{map[string]interface{}{"id": post.ID}},
		},
	})
	require.NoError(t, err)
	require.Len(t, te.linkedIDs(t, "User", "posts", user.ID), 1)

	_, err = te.exec.Update("User",
		map[string]interface{}{"id": user.ID},
		map[string]interface{}{
			"posts": map[string]interface{}{
				"disconnect": []interface{}{map[string]interface{}{"id": post.ID}},
			},
		})
	require.NoError(t, err)

	assert.Empty(t, te.linkedIDs(t, "User", "posts", user.ID))
	// The post itself survives a disconnect.
	assert.Equal(t, 1, te.countNodes(t, "Post"))
}

func TestConnectDisplacesSingleEnd(t *testing.T) {
	te := newTestEngine(t, blogModel)

	post, err := te.exec.Create("Post", map[string]interface{}{"title": "Shared"})
	require.NoError(t, err)

	first, err := te.exec.Create("User", map[string]interface{}{
		"name": "First",
		"posts": map[string]interface{}{
			"connect": map[string]interface{}{"id": post.ID},
		},
	})
	require.NoError(t, err)

	second, err := te.exec.Create("User", map[string]interface{}{
		"name": "Second",
		"posts": map[string]interface{}{
			"connect": map[string]interface{}{"id": post.ID},
		},
	})
	require.NoError(t, err)

	// Post.author is single, so the post moved to its new author.
	assert.Empty(t, te.linkedIDs(t, "User", "posts", first.ID))
	assert.Equal(t, []string{post.ID}, te.linkedIDs(t, "User", "posts", second.ID))
}
