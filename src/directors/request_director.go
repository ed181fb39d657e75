package directors

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"

	"nexusdb/src/engine"
	"nexusdb/src/schema"
	"nexusdb/src/store"
)

// RequestDirector executes one request against the bound operation catalog:
// parse, look the operation up, dispatch to the right resolver and shape the
// result for the wire. One operation per request.
func RequestDirector(query string, variables map[string]interface{},
	sm *ServiceManager, logger *zap.SugaredLogger) (map[string]interface{}, error) {

	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: query})
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("exactly one operation per request, got %d", len(doc.Operations))
	}

	op := doc.Operations[0]
	if op.Operation == ast.Subscription {
		return nil, fmt.Errorf("subscriptions are served over the websocket endpoint")
	}

	var fields []*ast.Field
	for _, sel := range op.SelectionSet {
		if fld, ok := sel.(*ast.Field); ok {
			fields = append(fields, fld)
		}
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("exactly one top-level field per request, got %d", len(fields))
	}
	fld := fields[0]

	catalogOp, ok := sm.Schema.Operations[fld.Name]
	if !ok {
		return nil, fmt.Errorf("unknown operation '%s'", fld.Name)
	}
	if err := checkOperationKind(op.Operation, catalogOp.Kind); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debugw("Dispatching operation", "operation", fld.Name, "type", catalogOp.TypeName)
	}

	result, err := dispatch(sm, catalogOp, fld, variables)
	if err != nil {
		return nil, err
	}

	key := fld.Name
	if fld.Alias != "" {
		key = fld.Alias
	}
	return map[string]interface{}{key: result}, nil
}

func checkOperationKind(opType ast.Operation, kind schema.OpKind) error {
	isRead := kind == schema.OpGetOne || kind == schema.OpList || kind == schema.OpConnection
	switch opType {
	case ast.Query:
		if !isRead {
			return fmt.Errorf("mutations must be sent as a mutation operation")
		}
	case ast.Mutation:
		if isRead {
			return fmt.Errorf("queries must be sent as a query operation")
		}
	}
	return nil
}

func dispatch(sm *ServiceManager, op schema.Operation, fld *ast.Field,
	vars map[string]interface{}) (interface{}, error) {

	args, err := argValues(fld, vars)
	if err != nil {
		return nil, err
	}
	where, _ := args["where"].(map[string]interface{})
	data, _ := args["data"].(map[string]interface{})

	switch op.Kind {
	case schema.OpGetOne:
		var result interface{}
		err := sm.Store.View(func(txn *store.Txn) error {
			node, err := sm.Selector.SelectOne(txn, op.TypeName, where)
			if err != nil {
				return err
			}
			result, err = renderNode(sm, txn, node, fld.SelectionSet)
			return err
		})
		return result, err

	case schema.OpList:
		var result []interface{}
		err := sm.Store.View(func(txn *store.Txn) error {
			nodes, err := sm.Connections.List(txn, op.TypeName, listArgs(args), nil)
			if err != nil {
				return err
			}
			result = make([]interface{}, 0, len(nodes))
			for _, node := range nodes {
				rendered, err := renderNode(sm, txn, node, fld.SelectionSet)
				if err != nil {
					return err
				}
				result = append(result, rendered)
			}
			return nil
		})
		return result, err

	case schema.OpConnection:
		var result map[string]interface{}
		err := sm.Store.View(func(txn *store.Txn) error {
			conn, err := sm.Connections.Resolve(txn, op.TypeName, listArgs(args), nil)
			if err != nil {
				return err
			}
			result, err = renderConnection(sm, txn, conn, fld.SelectionSet)
			return err
		})
		return result, err

	case schema.OpCreate:
		node, err := sm.Executor.Create(op.TypeName, data)
		if err != nil {
			return nil, err
		}
		return renderCommitted(sm, node, fld.SelectionSet)

	case schema.OpUpdate:
		node, err := sm.Executor.Update(op.TypeName, where, data)
		if err != nil {
			return nil, err
		}
		return renderCommitted(sm, node, fld.SelectionSet)

	case schema.OpDelete:
		node, err := sm.Executor.Delete(op.TypeName, where)
		if err != nil {
			return nil, err
		}
		// The node is gone; render from its final snapshot.
		return renderSnapshot(node, fld.SelectionSet), nil

	case schema.OpUpdateMany:
		count, err := sm.Executor.UpdateMany(op.TypeName, where, data)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"count": count}, nil

	case schema.OpDeleteMany:
		count, err := sm.Executor.DeleteMany(op.TypeName, where)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"count": count}, nil

	case schema.OpSubscribe:
		return nil, fmt.Errorf("subscriptions are served over the websocket endpoint")
	}

	return nil, fmt.Errorf("operation '%s' is not dispatchable", op.Name)
}

// argValues resolves the field's arguments against the request variables.
func argValues(fld *ast.Field, vars map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(fld.Arguments))
	for _, arg := range fld.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			return nil, fmt.Errorf("argument '%s': %w", arg.Name, err)
		}
		out[arg.Name] = v
	}
	return out, nil
}

func listArgs(args map[string]interface{}) engine.ListArgs {
	la := engine.ListArgs{}
	if w, ok := args["where"].(map[string]interface{}); ok {
		la.Where = w
	}
	if o, ok := args["orderBy"].(string); ok {
		la.OrderBy = o
	}
	if n, ok := asInt(args["skip"]); ok {
		la.Skip = n
	}
	if n, ok := asInt(args["first"]); ok {
		la.First = n
	}
	if s, ok := args["after"].(string); ok {
		la.After = s
	}
	if s, ok := args["before"].(string); ok {
		la.Before = s
	}
	return la
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// renderCommitted re-reads a just-committed node so relation selections see
// the post-mutation state.
func renderCommitted(sm *ServiceManager, node *store.Node, sel ast.SelectionSet) (interface{}, error) {
	var result interface{}
	err := sm.Store.View(func(txn *store.Txn) error {
		fresh, err := txn.GetNode(node.Type, node.ID)
		if err != nil {
			return err
		}
		result, err = renderNode(sm, txn, fresh, sel)
		return err
	})
	return result, err
}

// renderNode shapes a node per the requested selection set, following
// relation fields recursively.
func renderNode(sm *ServiceManager, txn *store.Txn, node *store.Node, sel ast.SelectionSet) (map[string]interface{}, error) {
	t := sm.Schema.Types[node.Type]
	out := make(map[string]interface{})

	for _, s := range sel {
		fld, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		key := fld.Name
		if fld.Alias != "" {
			key = fld.Alias
		}
		if fld.Name == "__typename" {
			out[key] = node.Type
			continue
		}

		f, ok := t.Fields[fld.Name]
		if !ok {
			return nil, fmt.Errorf("type '%s' has no field '%s'", node.Type, fld.Name)
		}

		if f.Kind == schema.KindScalar {
			out[key] = node.Fields[fld.Name]
			continue
		}

		rel := sm.Schema.Relations[f.RelationName]
		ids, err := txn.EdgesFrom(rel.Name, relSide(rel, node.Type, f.Name), node.ID)
		if err != nil {
			return nil, err
		}

		if f.List {
			children := make([]interface{}, 0, len(ids))
			for _, id := range ids {
				child, err := txn.GetNode(f.TypeName, id)
				if err != nil {
					return nil, err
				}
				rendered, err := renderNode(sm, txn, child, fld.SelectionSet)
				if err != nil {
					return nil, err
				}
				children = append(children, rendered)
			}
			out[key] = children
		} else if len(ids) > 0 {
			child, err := txn.GetNode(f.TypeName, ids[0])
			if err != nil {
				return nil, err
			}
			rendered, err := renderNode(sm, txn, child, fld.SelectionSet)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		} else {
			out[key] = nil
		}
	}
	return out, nil
}

// renderSnapshot shapes a deleted node from its final scalar values.
// Relation selections come back empty, the edges are gone.
func renderSnapshot(node *store.Node, sel ast.SelectionSet) map[string]interface{} {
	out := make(map[string]interface{})
	for _, s := range sel {
		fld, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		key := fld.Name
		if fld.Alias != "" {
			key = fld.Alias
		}
		if fld.Name == "__typename" {
			out[key] = node.Type
			continue
		}
		out[key] = node.Fields[fld.Name]
	}
	return out
}

func renderConnection(sm *ServiceManager, txn *store.Txn, conn *engine.Connection, sel ast.SelectionSet) (map[string]interface{}, error) {
	out := make(map[string]interface{})

	for _, s := range sel {
		fld, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		key := fld.Name
		if fld.Alias != "" {
			key = fld.Alias
		}

		switch fld.Name {
		case "edges":
			edges := make([]interface{}, 0, len(conn.Edges))
			for _, edge := range conn.Edges {
				rendered := make(map[string]interface{})
				for _, es := range fld.SelectionSet {
					efld, ok := es.(*ast.Field)
					if !ok {
						continue
					}
					ekey := efld.Name
					if efld.Alias != "" {
						ekey = efld.Alias
					}
					switch efld.Name {
					case "node":
						n, err := renderNode(sm, txn, edge.Node, efld.SelectionSet)
						if err != nil {
							return nil, err
						}
						rendered[ekey] = n
					case "cursor":
						rendered[ekey] = edge.Cursor
					}
				}
				edges = append(edges, rendered)
			}
			out[key] = edges

		case "aggregate":
			agg := make(map[string]interface{})
			for _, as := range fld.SelectionSet {
				afld, ok := as.(*ast.Field)
				if ok && afld.Name == "count" {
					akey := afld.Name
					if afld.Alias != "" {
						akey = afld.Alias
					}
					agg[akey] = conn.Aggregate.Count
				}
			}
			out[key] = agg

		case "pageInfo":
			pi := make(map[string]interface{})
			for _, ps := range fld.SelectionSet {
				pfld, ok := ps.(*ast.Field)
				if !ok {
					continue
				}
				pkey := pfld.Name
				if pfld.Alias != "" {
					pkey = pfld.Alias
				}
				switch pfld.Name {
				case "hasNextPage":
					pi[pkey] = conn.PageInfo.HasNextPage
				case "hasPreviousPage":
					pi[pkey] = conn.PageInfo.HasPreviousPage
				case "startCursor":
					pi[pkey] = conn.PageInfo.StartCursor
				case "endCursor":
					pi[pkey] = conn.PageInfo.EndCursor
				}
			}
			out[key] = pi

		default:
			return nil, fmt.Errorf("connections have no field '%s'", fld.Name)
		}
	}
	return out, nil
}

// relSide tells which side of a relation a type/field pair occupies.
func relSide(rel *schema.Relation, typeName, fieldName string) byte {
	if rel.A.TypeName == typeName && rel.A.Field == fieldName {
		return 'a'
	}
	return 'b'
}
