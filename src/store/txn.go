package store

import (
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

// Txn is one transaction against the node store. Writes staged in a Txn are
// invisible to every other transaction until the enclosing Update commits.
type Txn struct {
	btxn *badger.Txn
}

func nodeKey(typeName, id string) []byte {
	return []byte("n/" + typeName + "/" + id)
}

func uniqueKey(typeName, field string, value interface{}) []byte {
	return []byte(fmt.Sprintf("u/%s/%s/%v", typeName, field, value))
}

func edgeKey(side byte, relName, fromID, toID string) []byte {
	return []byte(fmt.Sprintf("e%c/%s/%s/%s", side, relName, fromID, toID))
}

// GetNode loads one node. Returns ErrNodeNotFound if the id does not exist.
func (t *Txn) GetNode(typeName, id string) (*Node, error) {
	item, err := t.btxn.Get(nodeKey(typeName, id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s/%s: %w", typeName, id, err)
	}

	var node Node
	err = item.Value(func(val []byte) error {
		return bson.Unmarshal(val, &node)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode node %s/%s: %w", typeName, id, err)
	}
	return &node, nil
}

// PutNode writes a node record.
func (t *Txn) PutNode(node *Node) error {
	data, err := bson.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node %s/%s: %w", node.Type, node.ID, err)
	}
	return t.btxn.Set(nodeKey(node.Type, node.ID), data)
}

// DeleteNode removes the node record itself. Index and edge cleanup is the
// caller's job.
func (t *Txn) DeleteNode(typeName, id string) error {
	return t.btxn.Delete(nodeKey(typeName, id))
}

// LookupUnique resolves a unique field value to the owning node id.
func (t *Txn) LookupUnique(typeName, field string, value interface{}) (string, bool, error) {
	item, err := t.btxn.Get(uniqueKey(typeName, field, value))
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read unique index %s.%s: %w", typeName, field, err)
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(id), true, nil
}

// ClaimUnique registers a unique field value for a node. Returns
// ErrUniqueConflict when another node already owns the value.
func (t *Txn) ClaimUnique(typeName, field string, value interface{}, id string) error {
	owner, found, err := t.LookupUnique(typeName, field, value)
	if err != nil {
		return err
	}
	if found && owner != id {
		return fmt.Errorf("%w: %s.%s = %v", ErrUniqueConflict, typeName, field, value)
	}
	return t.btxn.Set(uniqueKey(typeName, field, value), []byte(id))
}

// ReleaseUnique drops a unique index entry.
func (t *Txn) ReleaseUnique(typeName, field string, value interface{}) error {
	err := t.btxn.Delete(uniqueKey(typeName, field, value))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

// AddEdge records a relation edge between a node on the relation's A side and
// one on its B side. Both directions are written so either endpoint can be
// traversed from.
func (t *Txn) AddEdge(relName, aID, bID string) error {
	if err := t.btxn.Set(edgeKey('a', relName, aID, bID), nil); err != nil {
		return err
	}
	return t.btxn.Set(edgeKey('b', relName, bID, aID), nil)
}

// RemoveEdge drops both directions of a relation edge.
func (t *Txn) RemoveEdge(relName, aID, bID string) error {
	if err := t.btxn.Delete(edgeKey('a', relName, aID, bID)); err != nil {
		return err
	}
	return t.btxn.Delete(edgeKey('b', relName, bID, aID))
}

// EdgesFrom lists the ids connected to a node over one relation, seen from
// the given side ('a' or 'b').
func (t *Txn) EdgesFrom(relName string, side byte, id string) ([]string, error) {
	prefix := fmt.Sprintf("e%c/%s/%s/", side, relName, id)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := t.btxn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		key := string(it.Item().Key())
		out = append(out, strings.TrimPrefix(key, prefix))
	}
	return out, nil
}

// ScanType calls fn for every node of the given type, in key order.
// Returning false from fn stops the scan.
func (t *Txn) ScanType(typeName string, fn func(node *Node) (bool, error)) error {
	prefix := []byte("n/" + typeName + "/")

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.btxn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var node Node
		err := it.Item().Value(func(val []byte) error {
			return bson.Unmarshal(val, &node)
		})
		if err != nil {
			return fmt.Errorf("failed to decode node during scan: %w", err)
		}
		cont, err := fn(&node)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
