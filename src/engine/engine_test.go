package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nexusdb/src/events"
	"nexusdb/src/schema"
	"nexusdb/src/store"
)

const blogModel = `
type User {
  id: ID! @unique
  name: String!
  email: String @unique
  posts: [Post!]! @relation(name: "UserPosts")
}

type Post {
  id: ID! @unique
  title: String!
  published: Boolean
  author: User @relation(name: "UserPosts", onDelete: CASCADE)
}
`

type testEngine struct {
	schema   *schema.Schema
	store    *store.NodeStore
	selector *Selector
	cascade  *CascadeResolver
	exec     *MutationExecutor
	conns    *ConnectionResolver
	bus      *events.Bus
}

func newTestEngine(t *testing.T, sdl string) *testEngine {
	t.Helper()
	logger := zap.NewNop().Sugar()

	s, err := schema.Bind(sdl, logger)
	require.NoError(t, err)

	st, err := store.NewNodeStore("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(logger)
	selector := NewSelector(s, logger)
	cascade := NewCascadeResolver(s, logger)

	return &testEngine{
		schema:   s,
		store:    st,
		selector: selector,
		cascade:  cascade,
		exec:     NewMutationExecutor(s, st, selector, cascade, bus, logger),
		conns:    NewConnectionResolver(s, logger),
		bus:      bus,
	}
}

// countNodes counts every stored node of one type.
func (te *testEngine) countNodes(t *testing.T, typeName string) int {
	t.Helper()
	count := 0
	err := te.store.View(func(txn *store.Txn) error {
		return txn.ScanType(typeName, func(*store.Node) (bool, error) {
			count++
			return true, nil
		})
	})
	require.NoError(t, err)
	return count
}

// linkedIDs returns the ids connected to a node over one relation field.
func (te *testEngine) linkedIDs(t *testing.T, typeName, fieldName, id string) []string {
	t.Helper()
	f := te.schema.Types[typeName].Fields[fieldName]
	rel := te.schema.Relations[f.RelationName]

	var ids []string
	err := te.store.View(func(txn *store.Txn) error {
		var err error
		ids, err = txn.EdgesFrom(rel.Name, sideByte(rel, typeName, fieldName), id)
		return err
	})
	require.NoError(t, err)
	return ids
}

// firstNode returns the first stored node of a type, failing if none exist.
func (te *testEngine) firstNode(t *testing.T, typeName string) *store.Node {
	t.Helper()
	var found *store.Node
	err := te.store.View(func(txn *store.Txn) error {
		return txn.ScanType(typeName, func(n *store.Node) (bool, error) {
			found = n
			return false, nil
		})
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	return found
}

// drainEvents reads everything currently buffered on a subscription.
func drainEvents(sub *events.Subscription) []events.ChangeEvent {
	var out []events.ChangeEvent
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}
