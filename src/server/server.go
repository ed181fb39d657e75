package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexusdb/src/auth"
	"nexusdb/src/directors"
	"nexusdb/src/engine"
	"nexusdb/src/events"
	"nexusdb/src/schema"
	"nexusdb/src/settings"
	"nexusdb/src/store"
)

// Server is the HTTP front of nexusdb: one GraphQL endpoint, one websocket
// endpoint for subscriptions, both behind the auth gate.
type Server struct {
	Host string
	Port int

	gate       *auth.Gate
	sm         *directors.ServiceManager
	bus        *events.Bus
	nodeStore  *store.NodeStore
	tokenStore *auth.TokenStore
	httpSrv    *http.Server
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	Running bool

	group *errgroup.Group
}

// apiRequest is the JSON body of one request.
type apiRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// InitServer builds the whole service: logger, schema bind, node store,
// resolvers, auth gate. A SchemaError here is fatal, the caller must not
// serve anything.
func InitServer(config *settings.Arguments) (*Server, error) {
	var logger *zap.Logger
	var err error

	if config.Debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar := logger.Sugar()
	zap.ReplaceGlobals(logger)

	bound, err := schema.BindFile(config.SchemaFile, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to bind schema: %w", err)
	}

	nodeStore, err := store.NewNodeStore(config.DataDir, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create node store: %w", err)
	}

	bus := events.NewBus(sugar)
	sm := directors.InitServiceManager(bound, nodeStore, bus, sugar)

	var tokens *auth.TokenStore
	if config.TokenStoreFile != "" {
		tokens, err = auth.NewTokenStore(config.TokenStoreFile, config.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
		sugar.Infow("Permanent token store loaded", "tokens", len(tokens.ListTokens()))
	}

	gate := auth.NewGate(config.Secret, tokens, sugar)

	return &Server{
		Host:       config.Host,
		Port:       config.Port,
		gate:       gate,
		sm:         sm,
		bus:        bus,
		nodeStore:  nodeStore,
		tokenStore: tokens,
		logger:     sugar,
	}, nil
}

// Start begins serving requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting server on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	mux.HandleFunc("/subscriptions", s.handleSubscription)

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.Running = true
	s.mu.Unlock()

	s.logger.Infow("nexusdb server listening", "addr", addr, "authenticated", s.gate.Enabled())

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return nil
}

// Stop gracefully shuts down the server and closes the node store.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.Running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warnf("Error during HTTP shutdown: %v", err)
		}
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			s.logger.Warnf("Serve loop ended with error: %v", err)
		}
	}

	err := s.nodeStore.Close()

	s.logger.Info("Server shutdown complete")
	s.logger.Sync()

	return err
}

// IssueToken mints a named permanent token when a token store is configured.
func (s *Server) IssueToken(name string) (string, error) {
	if s.tokenStore == nil {
		return "", fmt.Errorf("no token store configured")
	}
	return s.tokenStore.Issue(name)
}

// handleRequest serves the GraphQL endpoint: auth gate first, then parse
// and dispatch, then a structured JSON result either way.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "only POST is accepted")
		return
	}

	if err := s.gate.Admit(r.Header.Get("Authorization")); err != nil {
		s.logger.Infow("Request rejected at auth gate", "remoteAddr", r.RemoteAddr, "error", err)
		sendError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	data, err := directors.RequestDirector(req.Query, req.Variables, s.sm, s.logger)
	if err != nil {
		sendError(w, statusFor(err), err.Error())
		return
	}

	sendResult(w, data)
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var selErr *engine.SelectorError
	var mutErr *engine.MutationError
	switch {
	case errors.As(err, &selErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &mutErr):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// Helper functions
func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"errors": []map[string]interface{}{{"message": message}},
	}
	json.NewEncoder(w).Encode(response)
}

func sendResult(w http.ResponseWriter, data map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"data": data,
	}
	json.NewEncoder(w).Encode(response)
}
