// Package ipc implements the statelet backend's unix-socket server. Each
// connection is one task's registry session: state registrations are scoped
// to the connection, state values live in the storage backend.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/statelet/statelet/internal/stateletd/storage"
	"github.com/statelet/statelet/pkg/logger"
	"github.com/statelet/statelet/pkg/protocol"
	"github.com/statelet/statelet/pkg/schema"
)

// Server handles IPC communication via Unix socket
type Server struct {
	socketPath  string
	backend     storage.Backend
	listener    net.Listener
	logger      *logger.Logger
	mu          sync.Mutex
	connections map[string]*connection
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// connection represents a single client connection and its registry session
type connection struct {
	id   string
	conn net.Conn
	enc  *json.Encoder

	// State registrations made on this connection (the task scope for
	// schema conflict checks)
	states map[string]registration
}

type registration struct {
	kind   storage.Kind
	schema *schema.Schema
}

// NewServer creates a new IPC server
func NewServer(socketPath string, backend storage.Backend, log *logger.Logger) *Server {
	if log == nil {
		log = logger.WithField("component", "ipc-server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		backend:     backend,
		logger:      log,
		connections: make(map[string]*connection),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	// Remove existing socket file
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix listener: %w", err)
	}

	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0666); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	// Close all connections
	s.mu.Lock()
	for _, conn := range s.connections {
		conn.conn.Close()
	}
	s.mu.Unlock()

	// Wait for all goroutines
	s.wg.Wait()

	// Remove socket file
	return os.RemoveAll(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	conn := &connection{
		id:     "conn-" + uuid.NewString(),
		conn:   netConn,
		enc:    json.NewEncoder(netConn),
		states: make(map[string]registration),
	}

	// Register connection
	s.mu.Lock()
	s.connections[conn.id] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.connections, conn.id)
		s.mu.Unlock()
	}()

	s.logger.Debug("connection opened", "conn", conn.id)

	// Read and process messages
	scanner := bufio.NewScanner(netConn)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024) // 1MB initial, 10MB max

	for scanner.Scan() {
		var msg protocol.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.sendError(conn, "", protocol.CodeInvalidJSON, err.Error())
			continue
		}

		response := s.processMessage(conn, msg)
		if err := conn.enc.Encode(response); err != nil {
			break
		}
	}

	s.logger.Debug("connection closed", "conn", conn.id)
}

func (s *Server) processMessage(conn *connection, msg protocol.Message) *protocol.Response {
	ctx := context.Background()

	switch msg.Operation {
	case protocol.OpRegisterScalar:
		return s.handleRegister(conn, msg, storage.KindScalar)
	case protocol.OpRegisterList:
		return s.handleRegister(conn, msg, storage.KindList)
	case protocol.OpExists:
		return s.handleExists(ctx, conn, msg)
	case protocol.OpGet:
		return s.handleGet(ctx, conn, msg)
	case protocol.OpListGet:
		return s.handleListGet(ctx, conn, msg)
	case protocol.OpUpdate:
		return s.handleUpdate(ctx, conn, msg)
	case protocol.OpListUpdate:
		return s.handleListUpdate(ctx, conn, msg)
	case protocol.OpRemove:
		return s.handleRemove(ctx, conn, msg)
	case protocol.OpPing:
		return &protocol.Response{RequestID: msg.RequestID, Success: true}
	default:
		return s.makeError(msg.RequestID, protocol.CodeUnknownOp, "unknown operation: "+string(msg.Operation))
	}
}

func (s *Server) handleRegister(conn *connection, msg protocol.Message, kind storage.Kind) *protocol.Response {
	if msg.StateName == "" {
		return s.makeError(msg.RequestID, protocol.CodeInvalidSchema, "state name is required")
	}
	// Storage backends compose state names into cell keys; keep the
	// delimiter bytes out of names so no backend has to second-guess them
	if strings.ContainsAny(msg.StateName, "\x00:") {
		return s.makeError(msg.RequestID, protocol.CodeInvalidSchema,
			fmt.Sprintf("state name %q contains reserved characters", msg.StateName))
	}
	if msg.Schema == nil {
		return s.makeError(msg.RequestID, protocol.CodeInvalidSchema, "schema is required")
	}
	if err := msg.Schema.Validate(); err != nil {
		return s.makeError(msg.RequestID, protocol.CodeInvalidSchema, err.Error())
	}

	if existing, ok := conn.states[msg.StateName]; ok {
		// Re-registering identical (name, kind, schema) is idempotent
		if existing.kind == kind && existing.schema.Equal(msg.Schema) {
			return &protocol.Response{RequestID: msg.RequestID, Success: true}
		}
		return s.makeError(msg.RequestID, protocol.CodeSchemaConflict,
			fmt.Sprintf("state %q already registered with a different schema", msg.StateName))
	}

	conn.states[msg.StateName] = registration{kind: kind, schema: msg.Schema}
	return &protocol.Response{RequestID: msg.RequestID, Success: true}
}

// checkStateOp validates the common preconditions of per-key operations
func (s *Server) checkStateOp(conn *connection, msg protocol.Message, kind storage.Kind) *protocol.Response {
	reg, ok := conn.states[msg.StateName]
	if !ok {
		return s.makeError(msg.RequestID, protocol.CodeUnknownState,
			fmt.Sprintf("state %q is not registered on this connection", msg.StateName))
	}
	if kind != "" && reg.kind != kind {
		return s.makeError(msg.RequestID, protocol.CodeUnknownState,
			fmt.Sprintf("state %q is registered as %s", msg.StateName, reg.kind))
	}
	if msg.Key == "" {
		return s.makeError(msg.RequestID, protocol.CodeInvalidKey, "grouping key is required")
	}
	return nil
}

func (s *Server) handleExists(ctx context.Context, conn *connection, msg protocol.Message) *protocol.Response {
	if resp := s.checkStateOp(conn, msg, ""); resp != nil {
		return resp
	}

	found, err := s.backend.Exists(ctx, msg.StateName, msg.Key)
	if err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
	}
	return &protocol.Response{RequestID: msg.RequestID, Success: true, Exists: found}
}

func (s *Server) handleGet(ctx context.Context, conn *connection, msg protocol.Message) *protocol.Response {
	if resp := s.checkStateOp(conn, msg, storage.KindScalar); resp != nil {
		return resp
	}

	entry, found, err := s.backend.Get(ctx, msg.StateName, msg.Key)
	if err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
	}
	if !found {
		// Absence is a normal result, not an error
		return &protocol.Response{RequestID: msg.RequestID, Success: true, Exists: false}
	}
	return &protocol.Response{RequestID: msg.RequestID, Success: true, Exists: true, Value: entry.Payload}
}

func (s *Server) handleListGet(ctx context.Context, conn *connection, msg protocol.Message) *protocol.Response {
	if resp := s.checkStateOp(conn, msg, storage.KindList); resp != nil {
		return resp
	}

	entry, found, err := s.backend.Get(ctx, msg.StateName, msg.Key)
	if err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
	}
	if !found {
		return &protocol.Response{RequestID: msg.RequestID, Success: true, Exists: false}
	}

	var values []json.RawMessage
	if err := json.Unmarshal(entry.Payload, &values); err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, "corrupt list payload: "+err.Error())
	}
	return &protocol.Response{RequestID: msg.RequestID, Success: true, Exists: true, Values: values}
}

func (s *Server) handleUpdate(ctx context.Context, conn *connection, msg protocol.Message) *protocol.Response {
	if resp := s.checkStateOp(conn, msg, storage.KindScalar); resp != nil {
		return resp
	}
	if len(msg.Value) == 0 {
		return s.makeError(msg.RequestID, protocol.CodeInvalidJSON, "value is required")
	}

	entry := storage.Entry{Kind: storage.KindScalar, Payload: msg.Value}
	if err := s.backend.Put(ctx, msg.StateName, msg.Key, entry); err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
	}
	return &protocol.Response{RequestID: msg.RequestID, Success: true}
}

func (s *Server) handleListUpdate(ctx context.Context, conn *connection, msg protocol.Message) *protocol.Response {
	if resp := s.checkStateOp(conn, msg, storage.KindList); resp != nil {
		return resp
	}

	// Replacing with an empty sequence clears the cell, so existence always
	// means a non-empty list
	if len(msg.Values) == 0 {
		if err := s.backend.Delete(ctx, msg.StateName, msg.Key); err != nil {
			return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
		}
		return &protocol.Response{RequestID: msg.RequestID, Success: true}
	}

	payload, err := json.Marshal(msg.Values)
	if err != nil {
		return s.makeError(msg.RequestID, protocol.CodeInvalidJSON, err.Error())
	}

	entry := storage.Entry{Kind: storage.KindList, Payload: payload}
	if err := s.backend.Put(ctx, msg.StateName, msg.Key, entry); err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
	}
	return &protocol.Response{RequestID: msg.RequestID, Success: true}
}

func (s *Server) handleRemove(ctx context.Context, conn *connection, msg protocol.Message) *protocol.Response {
	if resp := s.checkStateOp(conn, msg, ""); resp != nil {
		return resp
	}

	// Removing absent state is a no-op by contract
	if err := s.backend.Delete(ctx, msg.StateName, msg.Key); err != nil {
		return s.makeError(msg.RequestID, protocol.CodeStorageError, err.Error())
	}
	return &protocol.Response{RequestID: msg.RequestID, Success: true}
}

func (s *Server) makeError(requestID, code, message string) *protocol.Response {
	return &protocol.Response{
		RequestID: requestID,
		Success:   false,
		ErrorCode: code,
		Error:     message,
	}
}

func (s *Server) sendError(conn *connection, requestID, code, message string) {
	response := s.makeError(requestID, code, message)
	_ = conn.enc.Encode(response)
}
