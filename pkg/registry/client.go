// Package registry implements the state registry client: the single channel
// of communication between one processing task and the statelet backend.
// Every operation is a synchronous request/response round trip over a unix
// socket; an update or remove that returns nil has been acknowledged as
// durable by the backend.
package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statelet/statelet/pkg/errors"
	"github.com/statelet/statelet/pkg/logger"
	"github.com/statelet/statelet/pkg/protocol"
	"github.com/statelet/statelet/pkg/schema"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultMaxRetries     = 3
	defaultReconnectDelay = 1 * time.Second
)

// Kind distinguishes scalar from list state variables
type Kind string

const (
	KindScalar Kind = "scalar"
	KindList   Kind = "list"
)

// Ref is the handle a successful registration returns; state operations are
// issued against it.
type Ref struct {
	name string
	kind Kind
}

// Name returns the registered state name
func (r *Ref) Name() string { return r.name }

// Kind returns the registered state kind
func (r *Ref) Kind() Kind { return r.kind }

type registration struct {
	kind   Kind
	schema *schema.Schema
	ref    *Ref
}

// Client provides IPC communication with the statelet backend. One client
// serves one task; calls are serialized by an internal mutex and keys issued
// against one client are observed by the backend in issuance order.
type Client struct {
	socketPath     string
	conn           net.Conn
	mu             sync.Mutex
	dialTimeout    time.Duration
	readTimeout    time.Duration
	maxRetries     int
	reconnectDelay time.Duration
	logger         *logger.Logger
	closed         atomic.Bool
	requestID      uint64 // Accessed atomically, do not access directly

	// Names registered on this connection; guarded by mu
	registered map[string]registration
}

// Option tweaks client construction
type Option func(*Client)

// WithTimeouts overrides the dial and read timeouts
func WithTimeouts(dial, read time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = dial
		c.readTimeout = read
	}
}

// WithRetry overrides the bounded retry policy for transient connection
// errors. Logical errors are never retried regardless of this setting.
func WithRetry(maxRetries int, reconnectDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.reconnectDelay = reconnectDelay
	}
}

// NewClient creates a new registry client for the backend at socketPath
func NewClient(socketPath string, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.WithField("component", "registry-client")
	}

	c := &Client{
		socketPath:     socketPath,
		dialTimeout:    defaultDialTimeout,
		readTimeout:    defaultReadTimeout,
		maxRetries:     defaultMaxRetries,
		reconnectDelay: defaultReconnectDelay,
		logger:         log,
		registered:     make(map[string]registration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the connection to the backend
func (c *Client) Connect() error {
	if c.closed.Load() {
		return errors.ErrHandleClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil // Already connected
	}
	return c.reconnect()
}

// Close closes the connection. All subsequent operations fail with
// ErrHandleClosed. Close is idempotent so it is safe on every exit path.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// RegisterScalar registers a scalar state variable. Registering the same
// (name, schema) again returns an equivalent ref; the same name with a
// different schema fails with ErrSchemaConflict.
func (c *Client) RegisterScalar(ctx context.Context, name string, sch *schema.Schema) (*Ref, error) {
	return c.register(ctx, name, sch, KindScalar, protocol.OpRegisterScalar)
}

// RegisterList registers a list state variable under the same contract as
// RegisterScalar.
func (c *Client) RegisterList(ctx context.Context, name string, sch *schema.Schema) (*Ref, error) {
	return c.register(ctx, name, sch, KindList, protocol.OpRegisterList)
}

func (c *Client) register(ctx context.Context, name string, sch *schema.Schema, kind Kind, op protocol.Operation) (*Ref, error) {
	if c.closed.Load() {
		return nil, errors.WrapStateError(name, string(op), errors.ErrHandleClosed)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty state name", errors.ErrInvalidSchema)
	}
	if strings.ContainsAny(name, "\x00:") {
		return nil, fmt.Errorf("%w: state name %q contains reserved characters", errors.ErrInvalidSchema, name)
	}
	if err := sch.Validate(); err != nil {
		return nil, errors.WrapStateError(name, string(op), err)
	}

	// Local idempotence check before any round trip; the backend remains
	// the authority for anything this connection has not seen.
	c.mu.Lock()
	if existing, ok := c.registered[name]; ok {
		c.mu.Unlock()
		if existing.kind == kind && existing.schema.Equal(sch) {
			return existing.ref, nil
		}
		return nil, errors.WrapStateError(name, string(op), errors.ErrSchemaConflict)
	}
	c.mu.Unlock()

	msg := protocol.Message{
		Operation: op,
		StateName: name,
		Schema:    sch,
		RequestID: c.nextRequestID(),
		Timestamp: time.Now().Unix(),
	}

	resp, err := c.send(ctx, msg)
	if err != nil {
		return nil, errors.WrapStateError(name, string(op), err)
	}
	if !resp.Success {
		return nil, errors.WrapStateError(name, string(op), mapResponseError(resp))
	}

	ref := &Ref{name: name, kind: kind}
	c.mu.Lock()
	c.registered[name] = registration{kind: kind, schema: sch, ref: ref}
	c.mu.Unlock()

	return ref, nil
}

// Exists reports whether state is present for (ref, key)
func (c *Client) Exists(ctx context.Context, ref *Ref, key string) (bool, error) {
	resp, err := c.keyedOp(ctx, protocol.OpExists, ref, key, nil, nil)
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Get retrieves the scalar value for (ref, key). The bool result reports
// presence; absence is not an error.
func (c *Client) Get(ctx context.Context, ref *Ref, key string) (schema.Row, bool, error) {
	resp, err := c.keyedOp(ctx, protocol.OpGet, ref, key, nil, nil)
	if err != nil {
		return nil, false, err
	}
	if !resp.Exists {
		return nil, false, nil
	}

	var row schema.Row
	if err := json.Unmarshal(resp.Value, &row); err != nil {
		return nil, false, errors.WrapStateError(ref.name, "get", fmt.Errorf("failed to decode value: %w", err))
	}
	return row, true, nil
}

// GetList retrieves the full sequence for (ref, key). Absent state yields an
// empty sequence.
func (c *Client) GetList(ctx context.Context, ref *Ref, key string) ([]schema.Row, error) {
	resp, err := c.keyedOp(ctx, protocol.OpListGet, ref, key, nil, nil)
	if err != nil {
		return nil, err
	}

	rows := make([]schema.Row, 0, len(resp.Values))
	for _, raw := range resp.Values {
		var row schema.Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, errors.WrapStateError(ref.name, "list_get", fmt.Errorf("failed to decode value: %w", err))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Update replaces the scalar value for (ref, key). The call returns only
// after the backend has acknowledged the write.
func (c *Client) Update(ctx context.Context, ref *Ref, key string, row schema.Row) error {
	value, err := json.Marshal(row)
	if err != nil {
		return errors.WrapStateError(ref.name, "update", fmt.Errorf("failed to encode value: %w", err))
	}

	_, err = c.keyedOp(ctx, protocol.OpUpdate, ref, key, value, nil)
	return err
}

// UpdateList atomically replaces the whole sequence for (ref, key). An empty
// sequence clears the state.
func (c *Client) UpdateList(ctx context.Context, ref *Ref, key string, rows []schema.Row) error {
	values := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		value, err := json.Marshal(row)
		if err != nil {
			return errors.WrapStateError(ref.name, "list_update", fmt.Errorf("failed to encode value: %w", err))
		}
		values = append(values, value)
	}

	_, err := c.keyedOp(ctx, protocol.OpListUpdate, ref, key, nil, values)
	return err
}

// Remove deletes the state for (ref, key); removing absent state is a no-op
func (c *Client) Remove(ctx context.Context, ref *Ref, key string) error {
	_, err := c.keyedOp(ctx, protocol.OpRemove, ref, key, nil, nil)
	return err
}

// Ping checks that the backend is reachable and responding
func (c *Client) Ping(ctx context.Context) error {
	msg := protocol.Message{
		Operation: protocol.OpPing,
		RequestID: c.nextRequestID(),
		Timestamp: time.Now().Unix(),
	}

	resp, err := c.send(ctx, msg)
	if err != nil {
		return err
	}
	if !resp.Success {
		return mapResponseError(resp)
	}
	return nil
}

// keyedOp issues one per-key state operation and maps protocol errors
func (c *Client) keyedOp(ctx context.Context, op protocol.Operation, ref *Ref, key string, value json.RawMessage, values []json.RawMessage) (*protocol.Response, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: nil state ref", errors.ErrUnknownState)
	}
	if key == "" {
		return nil, errors.WrapStateError(ref.name, string(op), errors.ErrInvalidKeyState)
	}

	msg := protocol.Message{
		Operation: op,
		StateName: ref.name,
		Key:       key,
		Value:     value,
		Values:    values,
		RequestID: c.nextRequestID(),
		Timestamp: time.Now().Unix(),
	}

	resp, err := c.send(ctx, msg)
	if err != nil {
		return nil, errors.WrapStateError(ref.name, string(op), err)
	}
	if !resp.Success {
		return nil, errors.WrapStateError(ref.name, string(op), mapResponseError(resp))
	}
	return resp, nil
}

// send performs one request/response exchange, retrying transient connection
// failures a bounded number of times. Logical errors arrive as successful
// reads with an error code and are never retried.
func (c *Client) send(ctx context.Context, msg protocol.Message) (*protocol.Response, error) {
	if c.closed.Load() {
		return nil, errors.ErrHandleClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 {
			c.logger.Warn("retrying state operation",
				"op", msg.Operation, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
		}

		if c.conn == nil {
			if err := c.reconnect(); err != nil {
				lastErr = err
				continue
			}
		}

		resp, err := c.exchange(ctx, msg)
		if err != nil {
			// Drop the connection; the next attempt redials
			c.conn.Close()
			c.conn = nil
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, lastErr)
}

// exchange writes one message and reads its response on the live connection.
// Callers hold c.mu.
func (c *Client) exchange(ctx context.Context, msg protocol.Message) (*protocol.Response, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	deadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to state socket: %w", err)
	}

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.RequestID != msg.RequestID {
		return nil, fmt.Errorf("response for request %s arrived on request %s", response.RequestID, msg.RequestID)
	}
	return &response, nil
}

// reconnect dials the backend socket and replays the registrations made on
// this client, because the backend scopes them to the connection. Callers
// hold c.mu.
func (c *Client) reconnect() error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to state socket %s: %w", c.socketPath, err)
	}

	c.conn = conn
	c.logger.Debug("connected to statelet backend", "socket", c.socketPath)

	for name, reg := range c.registered {
		op := protocol.OpRegisterScalar
		if reg.kind == KindList {
			op = protocol.OpRegisterList
		}
		msg := protocol.Message{
			Operation: op,
			StateName: name,
			Schema:    reg.schema,
			RequestID: c.nextRequestID(),
			Timestamp: time.Now().Unix(),
		}
		resp, err := c.exchange(context.Background(), msg)
		if err != nil {
			c.conn.Close()
			c.conn = nil
			return fmt.Errorf("failed to replay registration of %q: %w", name, err)
		}
		if !resp.Success {
			c.conn.Close()
			c.conn = nil
			return fmt.Errorf("failed to replay registration of %q: %v", name, mapResponseError(resp))
		}
	}
	return nil
}

// nextRequestID generates a unique request ID (thread-safe)
func (c *Client) nextRequestID() string {
	id := atomic.AddUint64(&c.requestID, 1)
	return fmt.Sprintf("req-%d-%d", time.Now().UnixNano(), id)
}

// mapResponseError converts a protocol error code into the client taxonomy
func mapResponseError(resp *protocol.Response) error {
	switch resp.ErrorCode {
	case protocol.CodeSchemaConflict:
		return fmt.Errorf("%w: %s", errors.ErrSchemaConflict, resp.Error)
	case protocol.CodeInvalidSchema, protocol.CodeInvalidJSON:
		return fmt.Errorf("%w: %s", errors.ErrInvalidSchema, resp.Error)
	case protocol.CodeInvalidKey:
		return fmt.Errorf("%w: %s", errors.ErrInvalidKeyState, resp.Error)
	case protocol.CodeUnknownState:
		return fmt.Errorf("%w: %s", errors.ErrUnknownState, resp.Error)
	default:
		return fmt.Errorf("%w: %s: %s", errors.ErrBackendUnavailable, resp.ErrorCode, resp.Error)
	}
}
