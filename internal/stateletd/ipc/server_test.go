package ipc

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/statelet/statelet/internal/stateletd/storage"
	"github.com/statelet/statelet/pkg/protocol"
	"github.com/statelet/statelet/pkg/schema"
)

func startTestServer(t *testing.T) (string, storage.Backend) {
	t.Helper()

	backend := storage.NewMemoryBackend()
	socketPath := filepath.Join(t.TempDir(), "statelet.sock")

	server := NewServer(socketPath, backend, nil)
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	return socketPath, backend
}

func dialTestServer(t *testing.T, socketPath string) net.Conn {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, msg protocol.Message) *protocol.Response {
	t.Helper()

	if msg.RequestID == "" {
		msg.RequestID = "req-test"
	}
	msg.Timestamp = time.Now().Unix()

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}

	var response protocol.Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &response
}

func registerScalar(t *testing.T, conn net.Conn, name, ddl string) {
	t.Helper()

	resp := roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterScalar,
		StateName: name,
		Schema:    schema.MustParse(ddl),
	})
	if !resp.Success {
		t.Fatalf("register failed: %s %s", resp.ErrorCode, resp.Error)
	}
}

func TestServer_Start(t *testing.T) {
	socketPath, _ := startTestServer(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to connect to socket: %v", err)
	}
	conn.Close()
}

func TestServer_Ping(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	resp := roundTrip(t, conn, protocol.Message{Operation: protocol.OpPing, RequestID: "req-ping"})
	if !resp.Success {
		t.Errorf("ping failed: %s", resp.Error)
	}
	if resp.RequestID != "req-ping" {
		t.Errorf("RequestID = %q, want req-ping", resp.RequestID)
	}
}

func TestServer_RegisterScalar(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	registerScalar(t, conn, "count", "count BIGINT")

	// Identical re-registration is idempotent
	resp := roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterScalar,
		StateName: "count",
		Schema:    schema.MustParse("count BIGINT"),
	})
	if !resp.Success {
		t.Errorf("idempotent re-registration failed: %s", resp.Error)
	}

	// Different schema under the same name conflicts
	resp = roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterScalar,
		StateName: "count",
		Schema:    schema.MustParse("count STRING"),
	})
	if resp.Success || resp.ErrorCode != protocol.CodeSchemaConflict {
		t.Errorf("expected SCHEMA_CONFLICT, got success=%v code=%s", resp.Success, resp.ErrorCode)
	}

	// Same name, different kind also conflicts
	resp = roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterList,
		StateName: "count",
		Schema:    schema.MustParse("count BIGINT"),
	})
	if resp.Success || resp.ErrorCode != protocol.CodeSchemaConflict {
		t.Errorf("expected SCHEMA_CONFLICT for kind change, got code=%s", resp.ErrorCode)
	}
}

func TestServer_RegisterInvalidSchema(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	resp := roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterScalar,
		StateName: "bad",
		Schema:    &schema.Schema{},
	})
	if resp.Success || resp.ErrorCode != protocol.CodeInvalidSchema {
		t.Errorf("expected INVALID_SCHEMA, got code=%s", resp.ErrorCode)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterScalar,
		StateName: "bad",
	})
	if resp.Success || resp.ErrorCode != protocol.CodeInvalidSchema {
		t.Errorf("expected INVALID_SCHEMA for missing schema, got code=%s", resp.ErrorCode)
	}
}

func TestServer_RegisterReservedName(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	// Names carrying storage delimiter bytes are rejected up front so no
	// backend can conflate cells
	for _, name := range []string{"events:a", "a\x00b"} {
		resp := roundTrip(t, conn, protocol.Message{
			Operation: protocol.OpRegisterScalar,
			StateName: name,
			Schema:    schema.MustParse("count BIGINT"),
		})
		if resp.Success || resp.ErrorCode != protocol.CodeInvalidSchema {
			t.Errorf("expected INVALID_SCHEMA for name %q, got code=%s", name, resp.ErrorCode)
		}
	}
}

func TestServer_UpdateAndGet(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)
	registerScalar(t, conn, "count", "count BIGINT")

	resp := roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpUpdate,
		StateName: "count",
		Key:       "key-a",
		Value:     json.RawMessage(`{"count":2}`),
	})
	if !resp.Success {
		t.Fatalf("update failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpGet,
		StateName: "count",
		Key:       "key-a",
	})
	if !resp.Success || !resp.Exists {
		t.Fatalf("get failed: success=%v exists=%v err=%s", resp.Success, resp.Exists, resp.Error)
	}
	if string(resp.Value) != `{"count":2}` {
		t.Errorf("value = %s, want {\"count\":2}", resp.Value)
	}

	// A different key sees nothing
	resp = roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpGet,
		StateName: "count",
		Key:       "key-b",
	})
	if !resp.Success || resp.Exists {
		t.Errorf("expected absence for key-b, got exists=%v", resp.Exists)
	}
}

func TestServer_Remove(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)
	registerScalar(t, conn, "count", "count BIGINT")

	roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpUpdate, StateName: "count", Key: "key-a",
		Value: json.RawMessage(`{"count":1}`),
	})

	resp := roundTrip(t, conn, protocol.Message{Operation: protocol.OpRemove, StateName: "count", Key: "key-a"})
	if !resp.Success {
		t.Fatalf("remove failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.Message{Operation: protocol.OpExists, StateName: "count", Key: "key-a"})
	if !resp.Success || resp.Exists {
		t.Errorf("expected exists=false after remove, got %v", resp.Exists)
	}

	// Removing again is a no-op
	resp = roundTrip(t, conn, protocol.Message{Operation: protocol.OpRemove, StateName: "count", Key: "key-a"})
	if !resp.Success {
		t.Errorf("remove of absent state should succeed, got %s", resp.Error)
	}
}

func TestServer_ListOperations(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	resp := roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpRegisterList,
		StateName: "events",
		Schema:    schema.MustParse("event STRING"),
	})
	if !resp.Success {
		t.Fatalf("register list failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.Message{
		Operation: protocol.OpListUpdate,
		StateName: "events",
		Key:       "key-a",
		Values:    []json.RawMessage{json.RawMessage(`{"event":"x"}`), json.RawMessage(`{"event":"y"}`)},
	})
	if !resp.Success {
		t.Fatalf("list update failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.Message{Operation: protocol.OpListGet, StateName: "events", Key: "key-a"})
	if !resp.Success || !resp.Exists {
		t.Fatalf("list get failed: %s", resp.Error)
	}
	if len(resp.Values) != 2 || string(resp.Values[0]) != `{"event":"x"}` || string(resp.Values[1]) != `{"event":"y"}` {
		t.Errorf("unexpected list values: %v", resp.Values)
	}

	// Empty replacement clears the cell
	resp = roundTrip(t, conn, protocol.Message{Operation: protocol.OpListUpdate, StateName: "events", Key: "key-a"})
	if !resp.Success {
		t.Fatalf("empty list update failed: %s", resp.Error)
	}
	resp = roundTrip(t, conn, protocol.Message{Operation: protocol.OpExists, StateName: "events", Key: "key-a"})
	if resp.Exists {
		t.Error("expected exists=false after empty replacement")
	}
}

func TestServer_KindMismatch(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)
	registerScalar(t, conn, "count", "count BIGINT")

	resp := roundTrip(t, conn, protocol.Message{Operation: protocol.OpListGet, StateName: "count", Key: "key-a"})
	if resp.Success || resp.ErrorCode != protocol.CodeUnknownState {
		t.Errorf("expected UNKNOWN_STATE for kind mismatch, got code=%s", resp.ErrorCode)
	}
}

func TestServer_UnregisteredState(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	resp := roundTrip(t, conn, protocol.Message{Operation: protocol.OpGet, StateName: "ghost", Key: "key-a"})
	if resp.Success || resp.ErrorCode != protocol.CodeUnknownState {
		t.Errorf("expected UNKNOWN_STATE, got code=%s", resp.ErrorCode)
	}
}

func TestServer_MissingKey(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)
	registerScalar(t, conn, "count", "count BIGINT")

	resp := roundTrip(t, conn, protocol.Message{Operation: protocol.OpGet, StateName: "count"})
	if resp.Success || resp.ErrorCode != protocol.CodeInvalidKey {
		t.Errorf("expected INVALID_KEY, got code=%s", resp.ErrorCode)
	}
}

func TestServer_RegistrationsAreConnectionScoped(t *testing.T) {
	socketPath, _ := startTestServer(t)

	conn1 := dialTestServer(t, socketPath)
	registerScalar(t, conn1, "count", "count BIGINT")

	// A second connection has its own registration table
	conn2 := dialTestServer(t, socketPath)
	resp := roundTrip(t, conn2, protocol.Message{Operation: protocol.OpGet, StateName: "count", Key: "key-a"})
	if resp.Success || resp.ErrorCode != protocol.CodeUnknownState {
		t.Errorf("expected UNKNOWN_STATE on fresh connection, got code=%s", resp.ErrorCode)
	}

	// And may declare the same name with a different schema without conflict
	resp = roundTrip(t, conn2, protocol.Message{
		Operation: protocol.OpRegisterScalar,
		StateName: "count",
		Schema:    schema.MustParse("count STRING"),
	})
	if !resp.Success {
		t.Errorf("independent registration failed: %s", resp.Error)
	}
}

func TestServer_InvalidJSON(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dialTestServer(t, socketPath)

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Success || resp.ErrorCode != protocol.CodeInvalidJSON {
		t.Errorf("expected INVALID_JSON, got code=%s", resp.ErrorCode)
	}
}
