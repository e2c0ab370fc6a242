package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

const testSelf = "vessels.urn:mrn:signalk:uuid:c0d79334-4e25-4245-8892-54e8ccc8021d"

var testInfo = Info{Name: "bow-sensors", Version: "test", Self: testSelf}

type fakeCommands struct {
	mu   sync.Mutex
	puts []signalk.PutRequest
	err  error
}

func (f *fakeCommands) HandlePut(req signalk.PutRequest) signalk.PutResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, req)
	if f.err != nil {
		return Failed(req.RequestID, http.StatusBadRequest, f.err)
	}
	return signalk.PutResponse{RequestID: req.RequestID, State: signalk.StateCompleted, StatusCode: http.StatusOK}
}

func (f *fakeCommands) received() []signalk.PutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signalk.PutRequest(nil), f.puts...)
}

// dialHandler sets up a test server with the handler and returns a WS connection.
func dialHandler(t *testing.T, handler *Handler) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/signalk/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readInto reads the next JSON message from the connection into v.
func readInto(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, v))
}

func newTestHandler(hub *Hub, commands signalk.CommandHandler) *Handler {
	h := NewHandler(hub, testInfo, commands)
	h.now = func() time.Time { return t0 }
	return h
}

func TestHandler_Hello(t *testing.T) {
	conn, cleanup := dialHandler(t, newTestHandler(NewHub(), nil))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)
	assert.Equal(t, "bow-sensors", hello.Name)
	assert.Equal(t, "test", hello.Version)
	assert.Equal(t, testSelf, hello.Self)
	assert.Equal(t, "2025-06-14T08:00:00Z", hello.Timestamp)
}

func TestHandler_ReplaysLastValues(t *testing.T) {
	hub := NewHub()
	bridge := NewBridge(hub)
	remaining := signalk.BatteryPath("house", signalk.LeafRemainingAh)
	bridge.Publish(signalk.NewDelta(testSelf, "bow-sensors", t0,
		signalk.Value{Path: remaining, Value: 59.0},
	))

	conn, cleanup := dialHandler(t, newTestHandler(hub, nil))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)

	var replay signalk.Delta
	readInto(t, conn, &replay)
	assert.Equal(t, testSelf, replay.Context)
	values := replay.Values()
	require.Len(t, values, 1)
	assert.Equal(t, remaining, values[0].Path)
	assert.Equal(t, 59.0, values[0].Value)
}

func TestHandler_ReceivesBroadcasts(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dialHandler(t, newTestHandler(hub, nil))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	NewBridge(hub).Publish(signalk.NewDelta(testSelf, "bow-sensors", t0,
		signalk.Value{Path: signalk.PathCurrentRode, Value: 7.5},
	))

	var d signalk.Delta
	readInto(t, conn, &d)
	require.Len(t, d.Values(), 1)
	assert.Equal(t, 7.5, d.Values()[0].Value)
}

func TestHandler_PutForwarded(t *testing.T) {
	commands := &fakeCommands{}
	conn, cleanup := dialHandler(t, newTestHandler(NewHub(), commands))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{
		"context": "vessels.self",
		"requestId": "abc",
		"put": {"path": "electrical.batteries.house.capacity.remainingAh", "value": 80}
	}`)))

	var resp signalk.PutResponse
	readInto(t, conn, &resp)
	assert.Equal(t, "abc", resp.RequestID)
	assert.Equal(t, signalk.StateCompleted, resp.State)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	puts := commands.received()
	require.Len(t, puts, 1)
	assert.Equal(t, "electrical.batteries.house.capacity.remainingAh", puts[0].Put.Path)
	v, err := puts[0].Put.Float()
	require.NoError(t, err)
	assert.Equal(t, 80.0, v)
}

func TestHandler_PutFailureReported(t *testing.T) {
	commands := &fakeCommands{err: errors.New("unknown battery")}
	conn, cleanup := dialHandler(t, newTestHandler(NewHub(), commands))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"requestId":"r2","put":{"path":"electrical.batteries.nope.capacity.remainingAh","value":1}}`)))

	var resp signalk.PutResponse
	readInto(t, conn, &resp)
	assert.Equal(t, signalk.StateFailed, resp.State)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown battery", resp.Message)
}

func TestHandler_PutWithoutCommands(t *testing.T) {
	conn, cleanup := dialHandler(t, newTestHandler(NewHub(), nil))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"requestId":"r3","put":{"path":"navigation.anchor.resetRode","value":true}}`)))

	var resp signalk.PutResponse
	readInto(t, conn, &resp)
	assert.Equal(t, signalk.StateFailed, resp.State)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandler_InvalidMessageKeepsConnection(t *testing.T) {
	commands := &fakeCommands{}
	conn, cleanup := dialHandler(t, newTestHandler(NewHub(), commands))
	defer cleanup()

	var hello signalk.Hello
	readInto(t, conn, &hello)

	// Invalid JSON and a subscribe are both ignored without a reply.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"context":"vessels.self","subscribe":[{"path":"*"}]}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"requestId":"r4","put":{"path":"navigation.anchor.resetRode","value":true}}`)))

	var resp signalk.PutResponse
	readInto(t, conn, &resp)
	assert.Equal(t, "r4", resp.RequestID)
	assert.Len(t, commands.received(), 1)
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantPut bool
		wantErr bool
	}{
		{"put", `{"requestId":"1","put":{"path":"a.b","value":1}}`, true, false},
		{"subscribe", `{"subscribe":[{"path":"*"}]}`, false, false},
		{"put without path", `{"requestId":"1","put":{"value":1}}`, true, true},
		{"garbage", `{{`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, isPut, err := ParseInbound([]byte(tt.msg))
			assert.Equal(t, tt.wantPut, isPut)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
