package store

import (
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Sentinel errors surfaced by the store. The engine maps them onto its own
// error taxonomy.
var (
	ErrNodeNotFound   = errors.New("node not found")
	ErrUniqueConflict = errors.New("unique constraint violation")
)

// Node is one stored record. Relation values live in edge keys, not in
// Fields; Fields holds scalars only.
type Node struct {
	ID     string                 `bson:"_id"`
	Type   string                 `bson:"type"`
	Fields map[string]interface{} `bson:"fields"`
}

// NodeStore wraps a badger database holding nodes, unique index entries and
// relation edges.
//
// Key layout:
//
//	n/<type>/<id>            bson-encoded Node
//	u/<type>/<field>/<value> node id owning the unique value
//	ea/<rel>/<aID>/<bID>     edge, keyed from the relation's A side
//	eb/<rel>/<bID>/<aID>     the same edge, keyed from the B side
type NodeStore struct {
	db     *badger.DB
	logger *zap.SugaredLogger

	// writeMu serializes mutations. Each logical mutation owns every node
	// it touches for its whole duration, so sub-actions of two mutations
	// can never interleave observably.
	writeMu sync.Mutex
}

// NewNodeStore opens the store. An empty dataDir runs badger in memory,
// which is what the tests use.
func NewNodeStore(dataDir string, logger *zap.SugaredLogger) (*NodeStore, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dataDir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open node store: %w", err)
	}

	if logger != nil {
		if dataDir == "" {
			logger.Info("Node store opened in memory")
		} else {
			logger.Infow("Node store opened", "dir", dataDir)
		}
	}

	return &NodeStore{db: db, logger: logger}, nil
}

// Close flushes and closes the underlying database.
func (s *NodeStore) Close() error {
	return s.db.Close()
}

// Update runs fn inside a single read-write transaction under the store's
// write lock. If fn returns an error every write staged by the transaction
// is discarded and the store is left exactly as it was.
func (s *NodeStore) Update(fn func(txn *Txn) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	btxn := s.db.NewTransaction(true)
	defer btxn.Discard()

	txn := &Txn{btxn: btxn}
	if err := fn(txn); err != nil {
		return err
	}

	if err := btxn.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// View runs fn inside a read-only snapshot transaction.
func (s *NodeStore) View(fn func(txn *Txn) error) error {
	return s.db.View(func(btxn *badger.Txn) error {
		return fn(&Txn{btxn: btxn})
	})
}
