package directors

import (
	"sync"

	"nexusdb/src/engine"
	"nexusdb/src/events"
	"nexusdb/src/schema"
	"nexusdb/src/store"

	"go.uber.org/zap"
)

type ServiceManager struct {
	Schema      *schema.Schema
	Store       *store.NodeStore
	Selector    *engine.Selector
	Executor    *engine.MutationExecutor
	Connections *engine.ConnectionResolver
	Bus         *events.Bus
	logger      *zap.SugaredLogger
}

// Private instance and mutex for thread safety
var (
	instance *ServiceManager
	once     sync.Once
	mu       sync.RWMutex
)

// GetServiceManager returns the singleton instance of ServiceManager
func GetServiceManager() *ServiceManager {
	mu.RLock()
	defer mu.RUnlock()

	if instance == nil {
		// If someone tries to get the instance before initialization,
		// return a basic empty instance
		return &ServiceManager{}
	}
	return instance
}

// InitServiceManager initializes the ServiceManager singleton with services
func InitServiceManager(s *schema.Schema, st *store.NodeStore, bus *events.Bus, logger *zap.SugaredLogger) *ServiceManager {
	// Use sync.Once to ensure this only happens one time
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		instance = NewServiceManager(s, st, bus, logger)

		if logger != nil {
			logger.Info("ServiceManager singleton initialized")
		}
	})

	return instance
}

// NewServiceManager wires the resolvers around one schema and store. Tests
// build their own instead of touching the singleton.
func NewServiceManager(s *schema.Schema, st *store.NodeStore, bus *events.Bus, logger *zap.SugaredLogger) *ServiceManager {
	selector := engine.NewSelector(s, logger)
	cascade := engine.NewCascadeResolver(s, logger)

	return &ServiceManager{
		Schema:      s,
		Store:       st,
		Selector:    selector,
		Executor:    engine.NewMutationExecutor(s, st, selector, cascade, bus, logger),
		Connections: engine.NewConnectionResolver(s, logger),
		Bus:         bus,
		logger:      logger,
	}
}

// ResetServiceManager is useful for testing - it resets the singleton
func ResetServiceManager() {
	mu.Lock()
	defer mu.Unlock()

	instance = nil
	once = sync.Once{}
}
