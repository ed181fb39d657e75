package engine

import (
	"errors"

	"nexusdb/src/events"
	"nexusdb/src/helpers"
	"nexusdb/src/schema"
	"nexusdb/src/store"

	"go.uber.org/zap"
)

// MutationExecutor runs logical mutations. One mutation, including every
// nested sub-action, executes inside a single store transaction under the
// store's write lock: all-or-nothing, serializable against every other
// mutation, invisible outside until commit.
type MutationExecutor struct {
	schema   *schema.Schema
	store    *store.NodeStore
	selector *Selector
	cascade  *CascadeResolver
	bus      *events.Bus
	logger   *zap.SugaredLogger
}

func NewMutationExecutor(s *schema.Schema, st *store.NodeStore, sel *Selector,
	casc *CascadeResolver, bus *events.Bus, logger *zap.SugaredLogger) *MutationExecutor {
	return &MutationExecutor{
		schema:   s,
		store:    st,
		selector: sel,
		cascade:  casc,
		bus:      bus,
		logger:   logger,
	}
}

// wrapMutation folds any sub-action failure into a MutationError. The
// transaction has already been discarded when this runs.
func wrapMutation(err error) error {
	if err == nil {
		return nil
	}
	var me *MutationError
	if errors.As(err, &me) {
		return err
	}
	return &MutationError{Message: "mutation rolled back", Err: err}
}

// publish delivers the collected per-node events after a successful commit.
func (e *MutationExecutor) publish(pending []events.ChangeEvent) {
	if e.bus == nil {
		return
	}
	for _, ev := range pending {
		e.bus.Publish(ev)
	}
}

// Create executes a create mutation with any nested sub-actions.
func (e *MutationExecutor) Create(typeName string, data map[string]interface{}) (*store.Node, error) {
	var created *store.Node
	var pending []events.ChangeEvent

	err := e.store.Update(func(txn *store.Txn) error {
		node, err := e.createNode(txn, typeName, data, &pending)
		if err != nil {
			return err
		}
		created = node
		return nil
	})
	if err != nil {
		return nil, wrapMutation(err)
	}

	e.publish(pending)
	return created, nil
}

// Update executes an update mutation against exactly one node.
func (e *MutationExecutor) Update(typeName string, where, data map[string]interface{}) (*store.Node, error) {
	var updated *store.Node
	var pending []events.ChangeEvent

	err := e.store.Update(func(txn *store.Txn) error {
		target, err := e.selector.SelectOne(txn, typeName, where)
		if err != nil {
			return mutationErrorf(err, "update target not resolved")
		}

		prev := copyFields(target)
		if err := e.updateNode(txn, typeName, target, data, &pending); err != nil {
			return err
		}

		pending = append(pending, events.ChangeEvent{
			Mutation:       events.Updated,
			TypeName:       typeName,
			NodeID:         target.ID,
			Node:           copyFields(target),
			PreviousValues: prev,
		})
		updated = target
		return nil
	})
	if err != nil {
		return nil, wrapMutation(err)
	}

	e.publish(pending)
	return updated, nil
}

// Delete executes a delete mutation against exactly one node, cascading
// along relation edges per their declared policies.
func (e *MutationExecutor) Delete(typeName string, where map[string]interface{}) (*store.Node, error) {
	var target *store.Node
	var pending []events.ChangeEvent

	err := e.store.Update(func(txn *store.Txn) error {
		node, err := e.selector.SelectOne(txn, typeName, where)
		if err != nil {
			return mutationErrorf(err, "delete target not resolved")
		}

		visited := make(map[string]bool)
		var deleted []*store.Node
		if err := e.cascade.Delete(txn, node, visited, &deleted); err != nil {
			return mutationErrorf(err, "cascade failed")
		}

		for _, d := range deleted {
			pending = append(pending, events.ChangeEvent{
				Mutation:       events.Deleted,
				TypeName:       d.Type,
				NodeID:         d.ID,
				PreviousValues: copyFields(d),
			})
		}
		target = node
		return nil
	})
	if err != nil {
		return nil, wrapMutation(err)
	}

	e.publish(pending)
	return target, nil
}

// UpdateMany updates every node matched by a batch selector. Only scalar
// fields may change. The result is an affected count; no per-node events
// are emitted.
func (e *MutationExecutor) UpdateMany(typeName string, where, data map[string]interface{}) (int, error) {
	count := 0

	err := e.store.Update(func(txn *store.Txn) error {
		targets, err := e.selector.SelectMany(txn, typeName, where)
		if err != nil {
			return mutationErrorf(err, "batch selector failed")
		}

		t := e.schema.Types[typeName]
		for name := range data {
			if f, ok := t.Fields[name]; ok && f.Kind == schema.KindRelation {
				return mutationErrorf(nil, "batch update cannot touch relation field '%s.%s'", typeName, name)
			}
		}

		for _, target := range targets {
			if err := e.updateScalars(txn, t, target, data); err != nil {
				return err
			}
			if err := txn.PutNode(target); err != nil {
				return err
			}
		}
		count = len(targets)
		return nil
	})
	if err != nil {
		return 0, wrapMutation(err)
	}
	return count, nil
}

// DeleteMany deletes every node matched by a batch selector. A shared
// visited set keeps overlapping cascades from deleting anything twice.
// The result is an affected count; no per-node events are emitted.
func (e *MutationExecutor) DeleteMany(typeName string, where map[string]interface{}) (int, error) {
	count := 0

	err := e.store.Update(func(txn *store.Txn) error {
		targets, err := e.selector.SelectMany(txn, typeName, where)
		if err != nil {
			return mutationErrorf(err, "batch selector failed")
		}

		visited := make(map[string]bool)
		var deleted []*store.Node
		for _, target := range targets {
			if err := e.cascade.Delete(txn, target, visited, &deleted); err != nil {
				return mutationErrorf(err, "cascade failed")
			}
		}
		count = len(targets)
		return nil
	})
	if err != nil {
		return 0, wrapMutation(err)
	}
	return count, nil
}

// createNode builds one node from a data argument, claims its unique values
// and applies nested relation sub-actions. Runs inside the caller's
// transaction so a later failure discards everything it did.
func (e *MutationExecutor) createNode(txn *store.Txn, typeName string,
	data map[string]interface{}, pending *[]events.ChangeEvent) (*store.Node, error) {

	t, ok := e.schema.Types[typeName]
	if !ok {
		return nil, mutationErrorf(nil, "unknown type '%s'", typeName)
	}

	node := &store.Node{Type: typeName, Fields: make(map[string]interface{})}

	if raw, present := data[t.IDField]; present {
		id, ok := raw.(string)
		if !ok {
			return nil, mutationErrorf(nil, "identity field '%s.%s' expects a string", typeName, t.IDField)
		}
		node.ID = id
	} else {
		node.ID = helpers.GenerateUUID()
	}
	node.Fields[t.IDField] = node.ID

	// Identity is unique by definition.
	if _, err := txn.GetNode(typeName, node.ID); err == nil {
		return nil, mutationErrorf(store.ErrUniqueConflict, "'%s' id %s already exists", typeName, node.ID)
	} else if err != store.ErrNodeNotFound {
		return nil, err
	}

	for _, name := range t.FieldOrder {
		f := t.Fields[name]
		if f.IsID || f.Kind != schema.KindScalar {
			continue
		}

		v, present := data[name]
		if !present || v == nil {
			if f.NonNull && !f.List {
				return nil, mutationErrorf(nil, "missing required field '%s.%s'", typeName, name)
			}
			continue
		}

		if err := validateScalar(f, v); err != nil {
			return nil, mutationErrorf(nil, "type mismatch: %v", err)
		}
		node.Fields[name] = v

		if f.Unique {
			if err := txn.ClaimUnique(typeName, name, v, node.ID); err != nil {
				return nil, mutationErrorf(err, "create '%s' rejected", typeName)
			}
		}
	}

	if err := txn.PutNode(node); err != nil {
		return nil, err
	}

	for _, name := range t.FieldOrder {
		f := t.Fields[name]
		if f.Kind != schema.KindRelation {
			continue
		}

		raw, present := data[name]
		if !present {
			if f.NonNull && !f.List {
				return nil, mutationErrorf(nil, "missing required relation '%s.%s'", typeName, name)
			}
			continue
		}

		ops, ok := raw.(map[string]interface{})
		if !ok {
			return nil, mutationErrorf(nil, "relation field '%s.%s' expects nested sub-actions", typeName, name)
		}
		if err := e.applyRelationWrite(txn, t, node, f, ops, pending); err != nil {
			return nil, err
		}
	}

	*pending = append(*pending, events.ChangeEvent{
		Mutation: events.Created,
		TypeName: typeName,
		NodeID:   node.ID,
		Node:     copyFields(node),
	})

	return node, nil
}

// updateNode applies scalar changes and nested relation sub-actions to an
// existing node.
func (e *MutationExecutor) updateNode(txn *store.Txn, typeName string, node *store.Node,
	data map[string]interface{}, pending *[]events.ChangeEvent) error {

	t := e.schema.Types[typeName]

	if err := e.updateScalars(txn, t, node, data); err != nil {
		return err
	}

	for _, name := range t.FieldOrder {
		f := t.Fields[name]
		if f.Kind != schema.KindRelation {
			continue
		}
		raw, present := data[name]
		if !present {
			continue
		}
		ops, ok := raw.(map[string]interface{})
		if !ok {
			return mutationErrorf(nil, "relation field '%s.%s' expects nested sub-actions", typeName, name)
		}
		if err := e.applyRelationWrite(txn, t, node, f, ops, pending); err != nil {
			return err
		}
	}

	return txn.PutNode(node)
}

// updateScalars applies the scalar part of an update, moving unique index
// claims as values change. Node identity never changes.
func (e *MutationExecutor) updateScalars(txn *store.Txn, t *schema.Type, node *store.Node,
	data map[string]interface{}) error {

	for _, name := range t.FieldOrder {
		f := t.Fields[name]
		if f.Kind != schema.KindScalar {
			continue
		}
		v, present := data[name]
		if !present {
			continue
		}
		if f.IsID {
			return mutationErrorf(nil, "identity field '%s.%s' is immutable", t.Name, name)
		}
		if v == nil && f.NonNull {
			return mutationErrorf(nil, "field '%s.%s' is non-nullable", t.Name, name)
		}
		if v != nil {
			if err := validateScalar(f, v); err != nil {
				return mutationErrorf(nil, "type mismatch: %v", err)
			}
		}

		if f.Unique {
			if old, ok := node.Fields[name]; ok && old != nil && !valuesEqual(old, v) {
				if err := txn.ReleaseUnique(t.Name, name, old); err != nil {
					return err
				}
			}
			if v != nil {
				if err := txn.ClaimUnique(t.Name, name, v, node.ID); err != nil {
					return mutationErrorf(err, "update of '%s' rejected", t.Name)
				}
			}
		}

		if v == nil {
			delete(node.Fields, name)
		} else {
			node.Fields[name] = v
		}
	}
	return nil
}

// relationOpOrder fixes the order nested sub-actions run in within one
// relation argument.
var relationOpOrder = []string{"create", "connect", "update", "disconnect", "delete"}

// applyRelationWrite executes the nested sub-actions of one relation field.
func (e *MutationExecutor) applyRelationWrite(txn *store.Txn, t *schema.Type, node *store.Node,
	f *schema.Field, ops map[string]interface{}, pending *[]events.ChangeEvent) error {

	rel := e.schema.Relations[f.RelationName]
	if rel == nil {
		return mutationErrorf(nil, "relation '%s' is not bound", f.RelationName)
	}

	for opName := range ops {
		known := false
		for _, k := range relationOpOrder {
			if k == opName {
				known = true
				break
			}
		}
		if !known {
			return mutationErrorf(nil, "unknown sub-action '%s' on '%s.%s'", opName, t.Name, f.Name)
		}
	}

	for _, opName := range relationOpOrder {
		raw, present := ops[opName]
		if !present {
			continue
		}

		switch opName {
		case "create":
			for _, childData := range asMaps(raw) {
				child, err := e.createNode(txn, f.TypeName, childData, pending)
				if err != nil {
					return err
				}
				if err := e.link(txn, rel, t.Name, f, node, child.ID); err != nil {
					return err
				}
			}

		case "connect":
			for _, where := range asMaps(raw) {
				child, err := e.selector.SelectOne(txn, f.TypeName, where)
				if err != nil {
					return mutationErrorf(err, "connect target not resolved on '%s.%s'", t.Name, f.Name)
				}
				if err := e.link(txn, rel, t.Name, f, node, child.ID); err != nil {
					return err
				}
			}

		case "update":
			for _, entry := range asMaps(raw) {
				where, _ := entry["where"].(map[string]interface{})
				data, _ := entry["data"].(map[string]interface{})
				if data == nil {
					// Single-relation shorthand: the entry is the data itself.
					data = entry
					where = nil
				}
				child, err := e.connectedTarget(txn, rel, t.Name, f, node, where)
				if err != nil {
					return err
				}
				if err := e.updateNode(txn, f.TypeName, child, data, pending); err != nil {
					return err
				}
				*pending = append(*pending, events.ChangeEvent{
					Mutation: events.Updated,
					TypeName: f.TypeName,
					NodeID:   child.ID,
					Node:     copyFields(child),
				})
			}

		case "disconnect":
			if b, ok := raw.(bool); ok && b && !f.List {
				if err := e.unlinkAll(txn, rel, t.Name, f, node); err != nil {
					return err
				}
				continue
			}
			for _, where := range asMaps(raw) {
				child, err := e.selector.SelectOne(txn, f.TypeName, where)
				if err != nil {
					return mutationErrorf(err, "disconnect target not resolved on '%s.%s'", t.Name, f.Name)
				}
				if err := e.unlink(txn, rel, t.Name, f, node, child.ID); err != nil {
					return err
				}
			}

		case "delete":
			var wheres []map[string]interface{}
			if b, ok := raw.(bool); ok {
				if !b {
					continue
				}
				child, err := e.connectedTarget(txn, rel, t.Name, f, node, nil)
				if err != nil {
					return err
				}
				wheres = []map[string]interface{}{{e.schema.Types[f.TypeName].IDField: child.ID}}
			} else {
				wheres = asMaps(raw)
			}
			for _, where := range wheres {
				child, err := e.selector.SelectOne(txn, f.TypeName, where)
				if err != nil {
					return mutationErrorf(err, "delete target not resolved on '%s.%s'", t.Name, f.Name)
				}
				visited := make(map[string]bool)
				var deleted []*store.Node
				if err := e.cascade.Delete(txn, child, visited, &deleted); err != nil {
					return mutationErrorf(err, "cascade failed")
				}
				for _, d := range deleted {
					*pending = append(*pending, events.ChangeEvent{
						Mutation:       events.Deleted,
						TypeName:       d.Type,
						NodeID:         d.ID,
						PreviousValues: copyFields(d),
					})
				}
			}
		}
	}

	return nil
}

// connectedTarget resolves the node on the far end of a relation field,
// either by explicit where or, for single-cardinality fields, by following
// the existing edge.
func (e *MutationExecutor) connectedTarget(txn *store.Txn, rel *schema.Relation, ownerType string,
	f *schema.Field, node *store.Node, where map[string]interface{}) (*store.Node, error) {

	if where != nil {
		child, err := e.selector.SelectOne(txn, f.TypeName, where)
		if err != nil {
			return nil, mutationErrorf(err, "nested target not resolved on '%s.%s'", ownerType, f.Name)
		}
		return child, nil
	}

	side := sideByte(rel, ownerType, f.Name)
	ids, err := txn.EdgesFrom(rel.Name, side, node.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, mutationErrorf(nil, "'%s.%s' is not connected", ownerType, f.Name)
	}
	child, err := txn.GetNode(f.TypeName, ids[0])
	if err != nil {
		return nil, mutationErrorf(err, "connected node missing on '%s.%s'", ownerType, f.Name)
	}
	return child, nil
}

// sideByte tells which side of the relation the given type/field occupies.
func sideByte(rel *schema.Relation, typeName, fieldName string) byte {
	if rel.A.TypeName == typeName && rel.A.Field == fieldName {
		return 'a'
	}
	return 'b'
}

// link records an edge between the owning node and a related node,
// displacing existing edges on single-cardinality ends.
func (e *MutationExecutor) link(txn *store.Txn, rel *schema.Relation, ownerType string,
	f *schema.Field, node *store.Node, otherID string) error {

	side := sideByte(rel, ownerType, f.Name)
	other := rel.Other(ownerType, f.Name)

	if !f.List {
		if err := e.unlinkAll(txn, rel, ownerType, f, node); err != nil {
			return err
		}
	}
	if other.Field != "" && !other.List {
		// The far end is single too; an existing partner gets displaced.
		farSide := byte('a')
		if side == 'a' {
			farSide = 'b'
		}
		existing, err := txn.EdgesFrom(rel.Name, farSide, otherID)
		if err != nil {
			return err
		}
		for _, id := range existing {
			if farSide == 'a' {
				err = txn.RemoveEdge(rel.Name, otherID, id)
			} else {
				err = txn.RemoveEdge(rel.Name, id, otherID)
			}
			if err != nil {
				return err
			}
		}
	}

	if side == 'a' {
		return txn.AddEdge(rel.Name, node.ID, otherID)
	}
	return txn.AddEdge(rel.Name, otherID, node.ID)
}

// unlink removes the edge between the owning node and one related node.
func (e *MutationExecutor) unlink(txn *store.Txn, rel *schema.Relation, ownerType string,
	f *schema.Field, node *store.Node, otherID string) error {

	if sideByte(rel, ownerType, f.Name) == 'a' {
		return txn.RemoveEdge(rel.Name, node.ID, otherID)
	}
	return txn.RemoveEdge(rel.Name, otherID, node.ID)
}

// unlinkAll clears every edge of one relation field on the owning node.
func (e *MutationExecutor) unlinkAll(txn *store.Txn, rel *schema.Relation, ownerType string,
	f *schema.Field, node *store.Node) error {

	side := sideByte(rel, ownerType, f.Name)
	ids, err := txn.EdgesFrom(rel.Name, side, node.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.unlink(txn, rel, ownerType, f, node, id); err != nil {
			return err
		}
	}
	return nil
}

// asMaps normalizes a sub-action argument into a slice of maps: a list of
// entries or a single entry.
func asMaps(raw interface{}) []map[string]interface{} {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]interface{}:
		return []map[string]interface{}{v}
	}
	return nil
}

// copyFields snapshots a node's scalar fields for event payloads.
func copyFields(node *store.Node) map[string]interface{} {
	out := make(map[string]interface{}, len(node.Fields))
	for k, v := range node.Fields {
		out[k] = v
	}
	return out
}
