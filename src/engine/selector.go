package engine

import (
	"fmt"
	"strings"

	"nexusdb/src/schema"
	"nexusdb/src/store"

	"go.uber.org/zap"
)

// Selector resolves where-filters over unique fields to target nodes.
type Selector struct {
	schema *schema.Schema
	logger *zap.SugaredLogger
}

func NewSelector(s *schema.Schema, logger *zap.SugaredLogger) *Selector {
	return &Selector{schema: s, logger: logger}
}

// splitCondition separates a where key like "email_in" into the field name
// and its operator suffix.
func splitCondition(key string) (field, op string) {
	if i := strings.LastIndex(key, "_"); i > 0 {
		suffix := key[i+1:]
		switch suffix {
		case "in", "lt", "lte", "gt", "gte", "contains":
			return key[:i], suffix
		}
	}
	return key, ""
}

// SelectOne resolves a where-filter that must identify exactly one node.
// Only direct equality on a unique field is accepted; anything else fails
// with a SelectorError, as does a filter matching nothing.
func (s *Selector) SelectOne(txn *store.Txn, typeName string, where map[string]interface{}) (*store.Node, error) {
	t, ok := s.schema.Types[typeName]
	if !ok {
		return nil, selectorErrorf("unknown type '%s'", typeName)
	}
	if len(where) != 1 {
		return nil, selectorErrorf("single-node selection on '%s' requires exactly one unique field, got %d",
			typeName, len(where))
	}

	for key, value := range where {
		fieldName, op := splitCondition(key)
		if op != "" {
			return nil, selectorErrorf("operator '_%s' is not valid for single-node selection on '%s'", op, typeName)
		}

		f, ok := t.Fields[fieldName]
		if !ok {
			return nil, selectorErrorf("type '%s' has no field '%s'", typeName, fieldName)
		}
		if !f.Unique && !f.IsID {
			return nil, selectorErrorf("field '%s.%s' is not unique and cannot select a single node", typeName, fieldName)
		}

		node, err := s.lookup(txn, t, f, value)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, selectorErrorf("no '%s' matches %s = %v", typeName, fieldName, value)
		}
		return node, nil
	}

	// unreachable, the loop always returns
	return nil, selectorErrorf("empty selector")
}

// SelectMany resolves a where-filter over unique fields to a set of nodes.
// Set-membership conditions never fail on zero matches; the affected set is
// simply empty. Multiple conditions intersect.
func (s *Selector) SelectMany(txn *store.Txn, typeName string, where map[string]interface{}) ([]*store.Node, error) {
	t, ok := s.schema.Types[typeName]
	if !ok {
		return nil, selectorErrorf("unknown type '%s'", typeName)
	}
	if len(where) == 0 {
		// No filter selects every node of the type.
		var all []*store.Node
		err := txn.ScanType(typeName, func(n *store.Node) (bool, error) {
			all = append(all, n)
			return true, nil
		})
		return all, err
	}

	var result map[string]*store.Node

	for key, value := range where {
		fieldName, op := splitCondition(key)
		f, ok := t.Fields[fieldName]
		if !ok {
			return nil, selectorErrorf("type '%s' has no field '%s'", typeName, fieldName)
		}
		if !f.Unique && !f.IsID {
			return nil, selectorErrorf("field '%s.%s' is not unique and cannot be used as a selector key",
				typeName, fieldName)
		}

		matched := make(map[string]*store.Node)
		switch op {
		case "":
			node, err := s.lookup(txn, t, f, value)
			if err != nil {
				return nil, err
			}
			if node != nil {
				matched[node.ID] = node
			}
		case "in":
			values, ok := toSlice(value)
			if !ok {
				return nil, selectorErrorf("'%s' expects a list of values", key)
			}
			for _, v := range values {
				node, err := s.lookup(txn, t, f, v)
				if err != nil {
					return nil, err
				}
				if node != nil {
					matched[node.ID] = node
				}
			}
		default:
			return nil, selectorErrorf("operator '_%s' is not valid in a batch selector", op)
		}

		if result == nil {
			result = matched
		} else {
			for id := range result {
				if _, ok := matched[id]; !ok {
					delete(result, id)
				}
			}
		}
	}

	out := make([]*store.Node, 0, len(result))
	// Deterministic order for stable batch results.
	err := txn.ScanType(typeName, func(n *store.Node) (bool, error) {
		if _, ok := result[n.ID]; ok {
			out = append(out, n)
		}
		return true, nil
	})
	return out, err
}

// lookup resolves one unique field value through the unique index. The
// identity field resolves by direct key instead.
func (s *Selector) lookup(txn *store.Txn, t *schema.Type, f *schema.Field, value interface{}) (*store.Node, error) {
	if f.IsID {
		id, ok := value.(string)
		if !ok {
			return nil, selectorErrorf("identity selector on '%s' expects a string id, got %T", t.Name, value)
		}
		node, err := txn.GetNode(t.Name, id)
		if err == store.ErrNodeNotFound {
			return nil, nil
		}
		return node, err
	}

	id, found, err := txn.LookupUnique(t.Name, f.Name, value)
	if err != nil {
		return nil, fmt.Errorf("unique lookup failed: %w", err)
	}
	if !found {
		return nil, nil
	}
	return txn.GetNode(t.Name, id)
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch vals := v.(type) {
	case []interface{}:
		return vals, true
	case []string:
		out := make([]interface{}, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
