package engine

import (
	"encoding/base64"
	"sort"
	"strings"

	"nexusdb/src/schema"
	"nexusdb/src/store"

	"go.uber.org/zap"
)

// ListArgs is the read window of a list or connection query.
type ListArgs struct {
	Where   map[string]interface{}
	OrderBy string // "<field>_ASC" or "<field>_DESC"
	Skip    int
	First   int
	After   string
	Before  string
}

// RelationScope narrows a connection to the nodes reachable from a source
// node over one relation field.
type RelationScope struct {
	SourceType  string
	SourceField string
	SourceID    string
}

// Edge is one entry of a connection's edge list.
type Edge struct {
	Node   *store.Node
	Cursor string
}

// Aggregate holds totals computed over the full filtered set, independent
// of the pagination window.
type Aggregate struct {
	Count int
}

// PageInfo describes the returned window.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// Connection is a paginated, aggregate-capable view over a node set. It is
// recomputed per query and never persisted.
type Connection struct {
	Edges     []Edge
	Aggregate Aggregate
	PageInfo  PageInfo
}

// ConnectionResolver answers list and connection queries.
type ConnectionResolver struct {
	schema *schema.Schema
	logger *zap.SugaredLogger
}

func NewConnectionResolver(s *schema.Schema, logger *zap.SugaredLogger) *ConnectionResolver {
	return &ConnectionResolver{schema: s, logger: logger}
}

// List returns the nodes matching the filter inside the pagination window,
// sorted per OrderBy (identity ascending when unset).
func (c *ConnectionResolver) List(txn *store.Txn, typeName string, args ListArgs, scope *RelationScope) ([]*store.Node, error) {
	conn, err := c.Resolve(txn, typeName, args, scope)
	if err != nil {
		return nil, err
	}
	nodes := make([]*store.Node, len(conn.Edges))
	for i, e := range conn.Edges {
		nodes[i] = e.Node
	}
	return nodes, nil
}

// Resolve computes the full connection. The aggregate count always covers
// the whole filtered set, whatever window the client asked for.
func (c *ConnectionResolver) Resolve(txn *store.Txn, typeName string, args ListArgs, scope *RelationScope) (*Connection, error) {
	t, ok := c.schema.Types[typeName]
	if !ok {
		return nil, selectorErrorf("unknown type '%s'", typeName)
	}

	candidates, err := c.candidates(txn, typeName, scope)
	if err != nil {
		return nil, err
	}

	var matched []*store.Node
	for _, node := range candidates {
		ok, err := c.matches(t, node, args.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, node)
		}
	}

	if err := c.sortNodes(t, matched, args.OrderBy); err != nil {
		return nil, err
	}

	conn := &Connection{Aggregate: Aggregate{Count: len(matched)}}

	window := matched
	if args.After != "" {
		if id, ok := decodeCursor(args.After); ok {
			for i, n := range window {
				if n.ID == id {
					window = window[i+1:]
					conn.PageInfo.HasPreviousPage = true
					break
				}
			}
		}
	}
	if args.Before != "" {
		if id, ok := decodeCursor(args.Before); ok {
			for i, n := range window {
				if n.ID == id {
					window = window[:i]
					conn.PageInfo.HasNextPage = true
					break
				}
			}
		}
	}
	if args.Skip > 0 {
		if args.Skip >= len(window) {
			window = nil
		} else {
			window = window[args.Skip:]
			conn.PageInfo.HasPreviousPage = true
		}
	}
	if args.First > 0 && args.First < len(window) {
		window = window[:args.First]
		conn.PageInfo.HasNextPage = true
	}

	for _, node := range window {
		conn.Edges = append(conn.Edges, Edge{Node: node, Cursor: encodeCursor(node.ID)})
	}
	if len(conn.Edges) > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[len(conn.Edges)-1].Cursor
	}

	return conn, nil
}

// candidates loads the base node set: every node of the type, or the nodes
// reachable from the scope's source over its relation field.
func (c *ConnectionResolver) candidates(txn *store.Txn, typeName string, scope *RelationScope) ([]*store.Node, error) {
	if scope == nil {
		var all []*store.Node
		err := txn.ScanType(typeName, func(n *store.Node) (bool, error) {
			all = append(all, n)
			return true, nil
		})
		return all, err
	}

	srcType, ok := c.schema.Types[scope.SourceType]
	if !ok {
		return nil, selectorErrorf("unknown type '%s'", scope.SourceType)
	}
	f, ok := srcType.Fields[scope.SourceField]
	if !ok || f.Kind != schema.KindRelation {
		return nil, selectorErrorf("'%s.%s' is not a relation field", scope.SourceType, scope.SourceField)
	}

	rel := c.schema.Relations[f.RelationName]
	ids, err := txn.EdgesFrom(rel.Name, sideByte(rel, scope.SourceType, scope.SourceField), scope.SourceID)
	if err != nil {
		return nil, err
	}

	nodes := make([]*store.Node, 0, len(ids))
	for _, id := range ids {
		node, err := txn.GetNode(typeName, id)
		if err == store.ErrNodeNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// matches evaluates a general scalar filter: equality, _in, _contains and
// the numeric comparison operators. Conditions AND together.
func (c *ConnectionResolver) matches(t *schema.Type, node *store.Node, where map[string]interface{}) (bool, error) {
	for key, expected := range where {
		fieldName, op := splitCondition(key)
		f, ok := t.Fields[fieldName]
		if !ok {
			return false, selectorErrorf("type '%s' has no field '%s'", t.Name, fieldName)
		}
		if f.Kind == schema.KindRelation {
			return false, selectorErrorf("relation field '%s.%s' cannot be filtered directly", t.Name, fieldName)
		}

		actual := node.Fields[fieldName]
		switch op {
		case "":
			if !valuesEqual(actual, expected) {
				return false, nil
			}
		case "in":
			values, ok := toSlice(expected)
			if !ok {
				return false, selectorErrorf("'%s' expects a list of values", key)
			}
			found := false
			for _, v := range values {
				if valuesEqual(actual, v) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case "contains":
			s, sok := actual.(string)
			sub, bok := expected.(string)
			if !sok || !bok || !strings.Contains(s, sub) {
				return false, nil
			}
		case "lt", "lte", "gt", "gte":
			if actual == nil {
				return false, nil
			}
			cmp := compareValues(actual, expected)
			switch op {
			case "lt":
				if cmp >= 0 {
					return false, nil
				}
			case "lte":
				if cmp > 0 {
					return false, nil
				}
			case "gt":
				if cmp <= 0 {
					return false, nil
				}
			case "gte":
				if cmp < 0 {
					return false, nil
				}
			}
		}
	}
	return true, nil
}

// sortNodes orders the matched set. Default order is identity ascending so
// pagination stays deterministic.
func (c *ConnectionResolver) sortNodes(t *schema.Type, nodes []*store.Node, orderBy string) error {
	field := t.IDField
	desc := false

	if orderBy != "" {
		switch {
		case strings.HasSuffix(orderBy, "_ASC"):
			field = strings.TrimSuffix(orderBy, "_ASC")
		case strings.HasSuffix(orderBy, "_DESC"):
			field = strings.TrimSuffix(orderBy, "_DESC")
			desc = true
		default:
			return selectorErrorf("orderBy '%s' must end in _ASC or _DESC", orderBy)
		}
		f, ok := t.Fields[field]
		if !ok || f.Kind != schema.KindScalar {
			return selectorErrorf("orderBy references no scalar field '%s.%s'", t.Name, field)
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		cmp := compareValues(nodes[i].Fields[field], nodes[j].Fields[field])
		if cmp == 0 {
			// Tie-break on identity.
			cmp = strings.Compare(nodes[i].ID, nodes[j].ID)
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return nil
}

func encodeCursor(id string) string {
	return base64.StdEncoding.EncodeToString([]byte("cursor:" + id))
}

func decodeCursor(cursor string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", false
	}
	s := string(raw)
	if !strings.HasPrefix(s, "cursor:") {
		return "", false
	}
	return strings.TrimPrefix(s, "cursor:"), true
}
