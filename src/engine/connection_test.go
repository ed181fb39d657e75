package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexusdb/src/store"
)

func seedPosts(t *testing.T, te *testEngine) {
	t.Helper()
	for i := 1; i <= 5; i++ {
		_, err := te.exec.Create("Post", map[string]interface{}{
			"title":     fmt.Sprintf("post-%d", i),
			"published": i <= 3,
		})
		require.NoError(t, err)
	}
}

func TestAggregateCountIgnoresPaginationWindow(t *testing.T) {
	te := newTestEngine(t, blogModel)
	seedPosts(t, te)

	filter := map[string]interface{}{"published": true}

	err := te.store.View(func(txn *store.Txn) error {
		for _, first := range []int{1, 2, 100} {
			conn, err := te.conns.Resolve(txn, "Post", ListArgs{Where: filter, First: first}, nil)
			require.NoError(t, err)
			assert.Equal(t, 3, conn.Aggregate.Count, "first=%d", first)
			if first < 3 {
				assert.Len(t, conn.Edges, first)
				assert.True(t, conn.PageInfo.HasNextPage)
			} else {
				assert.Len(t, conn.Edges, 3)
				assert.False(t, conn.PageInfo.HasNextPage)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestConnectionOrderingAndWindow(t *testing.T) {
	te := newTestEngine(t, blogModel)
	seedPosts(t, te)

	err := te.store.View(func(txn *store.Txn) error {
		conn, err := te.conns.Resolve(txn, "Post", ListArgs{
			OrderBy: "title_DESC",
			Skip:    1,
			First:   2,
		}, nil)
		require.NoError(t, err)

		require.Len(t, conn.Edges, 2)
		assert.Equal(t, "post-4", conn.Edges[0].Node.Fields["title"])
		assert.Equal(t, "post-3", conn.Edges[1].Node.Fields["title"])
		assert.Equal(t, 5, conn.Aggregate.Count)
		assert.True(t, conn.PageInfo.HasPreviousPage)
		assert.True(t, conn.PageInfo.HasNextPage)
		return nil
	})
	require.NoError(t, err)
}

func TestConnectionCursorPagination(t *testing.T) {
	te := newTestEngine(t, blogModel)
	seedPosts(t, te)

	err := te.store.View(func(txn *store.Txn) error {
		page1, err := te.conns.Resolve(txn, "Post", ListArgs{OrderBy: "title_ASC", First: 2}, nil)
		require.NoError(t, err)
		require.Len(t, page1.Edges, 2)

		page2, err := te.conns.Resolve(txn, "Post", ListArgs{
			OrderBy: "title_ASC",
			First:   2,
			After:   page1.PageInfo.EndCursor,
		}, nil)
		require.NoError(t, err)
		require.Len(t, page2.Edges, 2)
		assert.Equal(t, "post-3", page2.Edges[0].Node.Fields["title"])
		assert.Equal(t, "post-4", page2.Edges[1].Node.Fields["title"])

		// The aggregate still covers the whole set on a later page.
		assert.Equal(t, 5, page2.Aggregate.Count)
		return nil
	})
	require.NoError(t, err)
}

func TestRelationScopedConnection(t *testing.T) {
	te := newTestEngine(t, blogModel)

	user, err := te.exec.Create("User", map[string]interface{}{
		"name": "Sarah",
		"posts": map[string]interface{}{
			"create": []interface{}{
				map[string]interface{}{"title": "mine-1", "published": true},
				map[string]interface{}{"title": "mine-2", "published": false},
			},
		},
	})
	require.NoError(t, err)

	// A post by someone else must stay outside the scope.
	_, err = te.exec.Create("Post", map[string]interface{}{"title": "other", "published": true})
	require.NoError(t, err)

	err = te.store.View(func(txn *store.Txn) error {
		conn, err := te.conns.Resolve(txn, "Post", ListArgs{}, &RelationScope{
			SourceType:  "User",
			SourceField: "posts",
			SourceID:    user.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, conn.Aggregate.Count)

		published, err := te.conns.Resolve(txn, "Post",
			ListArgs{Where: map[string]interface{}{"published": true}},
			&RelationScope{SourceType: "User", SourceField: "posts", SourceID: user.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, published.Aggregate.Count)
		return nil
	})
	require.NoError(t, err)
}

func TestConnectionGeneralFilters(t *testing.T) {
	te := newTestEngine(t, blogModel)
	seedPosts(t, te)

	err := te.store.View(func(txn *store.Txn) error {
		contains, err := te.conns.Resolve(txn, "Post", ListArgs{
			Where: map[string]interface{}{"title_contains": "post-"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, contains.Aggregate.Count)

		lt, err := te.conns.Resolve(txn, "Post", ListArgs{
			Where: map[string]interface{}{"title_lt": "post-3"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, lt.Aggregate.Count)

		in, err := te.conns.Resolve(txn, "Post", ListArgs{
			Where: map[string]interface{}{"title_in": []interface{}{"post-1", "post-5", "ghost"}},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, in.Aggregate.Count)
		return nil
	})
	require.NoError(t, err)
}

func TestConnectionRejectsBadOrderBy(t *testing.T) {
	te := newTestEngine(t, blogModel)

	err := te.store.View(func(txn *store.Txn) error {
		_, err := te.conns.Resolve(txn, "Post", ListArgs{OrderBy: "title"}, nil)
		var se *SelectorError
		require.ErrorAs(t, err, &se)
		return nil
	})
	require.NoError(t, err)
}
