package engine

import (
	"fmt"

	"nexusdb/src/schema"
	"nexusdb/src/store"

	"go.uber.org/zap"
)

// CascadeResolver propagates delete behavior along relation edges.
//
// Deletion policy follows the referencing field: when node N is deleted,
// every node holding a relation field that points at N is handled by that
// field's own policy. CASCADE deletes the referencing node recursively,
// SET_NULL clears the reference and keeps it. Each directed side of a
// relation applies independently, including symmetric self-relations.
type CascadeResolver struct {
	schema *schema.Schema
	logger *zap.SugaredLogger
}

func NewCascadeResolver(s *schema.Schema, logger *zap.SugaredLogger) *CascadeResolver {
	return &CascadeResolver{schema: s, logger: logger}
}

// Delete removes node and everything its relation policies pull down with
// it. The visited set is keyed by type/id so cyclic relation graphs
// terminate and no node is deleted twice. Every deleted node is appended to
// deleted, in deletion order.
func (c *CascadeResolver) Delete(txn *store.Txn, node *store.Node, visited map[string]bool, deleted *[]*store.Node) error {
	key := node.Type + "/" + node.ID
	if visited[key] {
		return nil
	}
	visited[key] = true

	for _, rel := range c.schema.RelationsOf(node.Type) {
		// The node may occupy either side of the relation, or both for a
		// self-relation. Each occupied side is traversed on its own.
		if rel.A.TypeName == node.Type {
			if err := c.traverse(txn, node, rel, 'a', rel.B, visited, deleted); err != nil {
				return err
			}
		}
		if rel.B.TypeName == node.Type {
			if err := c.traverse(txn, node, rel, 'b', rel.A, visited, deleted); err != nil {
				return err
			}
		}
	}

	if err := c.dropNode(txn, node); err != nil {
		return err
	}
	*deleted = append(*deleted, node)
	return nil
}

// traverse handles the neighbors reachable from one side of a relation. The
// opposite side's field is the one referencing the deleted node, so its
// policy decides the neighbors' fate.
func (c *CascadeResolver) traverse(txn *store.Txn, node *store.Node, rel *schema.Relation,
	side byte, opposite schema.RelationSide, visited map[string]bool, deleted *[]*store.Node) error {

	neighborIDs, err := txn.EdgesFrom(rel.Name, side, node.ID)
	if err != nil {
		return fmt.Errorf("failed to read edges of relation '%s': %w", rel.Name, err)
	}

	for _, neighborID := range neighborIDs {
		// Drop the edge first so the recursive walk never revisits it.
		if side == 'a' {
			err = txn.RemoveEdge(rel.Name, node.ID, neighborID)
		} else {
			err = txn.RemoveEdge(rel.Name, neighborID, node.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to remove edge of relation '%s': %w", rel.Name, err)
		}

		if opposite.OnDelete != schema.DeleteCascade {
			// SET_NULL: the edge removal above already cleared the
			// neighbor's reference; the neighbor itself stays.
			continue
		}

		neighbor, err := txn.GetNode(opposite.TypeName, neighborID)
		if err == store.ErrNodeNotFound {
			// Already deleted earlier in this same cascade.
			continue
		}
		if err != nil {
			return err
		}
		if err := c.Delete(txn, neighbor, visited, deleted); err != nil {
			return err
		}
	}
	return nil
}

// dropNode releases the node's unique claims and removes the record.
func (c *CascadeResolver) dropNode(txn *store.Txn, node *store.Node) error {
	t := c.schema.Types[node.Type]
	for _, f := range t.UniqueFields() {
		if f.IsID {
			continue
		}
		if v, ok := node.Fields[f.Name]; ok && v != nil {
			if err := txn.ReleaseUnique(node.Type, f.Name, v); err != nil {
				return err
			}
		}
	}
	return txn.DeleteNode(node.Type, node.ID)
}
