package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sneaky-linq/internal/channels"
	"sneaky-linq/internal/repository"
	"sneaky-linq/internal/service"
)

const (
	wsDeviceA = "3f1b6a52-8c1e-4c52-9a57-0d7e6f1a2b3c"
	wsDeviceB = "9b2f4d1e-5a6c-4e7f-8a9b-1c2d3e4f5a6b"
)

type wireEnvelope struct {
	Event   string          `json:"event"`
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type wireSession struct {
	DID     string   `json:"did"`
	Channel string   `json:"channel"`
	Alias   *string  `json:"alias"`
	TTL     int64    `json:"ttl"`
	Groups  []string `json:"groups"`
}

type wireChat struct {
	Alias   string `json:"alias"`
	DID     string `json:"did"`
	Message string `json:"message"`
}

func newWSTestServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	registrySvc := service.NewRegistryService(logger, repository.NewMemoryRegistry(time.Hour), nil, nil)
	hub := channels.NewHub(logger, time.Second)
	relay := service.NewRelayRouter(logger, registrySvc, hub)
	wsH := NewWSHandler(logger, registrySvc, relay, hub, nil, nil)
	healthH := NewHealthHandler(logger, registrySvc)

	srv := httptest.NewServer(NewRouter(logger, wsH, healthH, nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWS(t *testing.T, url, subprotocol string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnv(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wireEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func expectEnv(t *testing.T, env wireEnvelope, event string, status bool, message string) {
	t.Helper()
	if env.Event != event || env.Status != status || env.Message != message {
		t.Fatalf("expected {%s %v %q}, got {%s %v %q}", event, status, message, env.Event, env.Status, env.Message)
	}
}

func expectClosed(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closeErr.Code != code {
		t.Fatalf("expected close code %d, got %d", code, closeErr.Code)
	}
}

// connectWithAlias abre /ws/connect/ para id y fija alias desde la misma conexion.
func connectWithAlias(t *testing.T, base, id, alias string) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, base+"/ws/connect/", id)
	expectEnv(t, readEnv(t, conn), "device.connect", true, "Current device data")
	if err := conn.WriteJSON(map[string]string{"alias": alias}); err != nil {
		t.Fatalf("write alias: %v", err)
	}
	expectEnv(t, readEnv(t, conn), "device.setup", true, "Alias accepted")
	return conn
}

func TestConnectRole(t *testing.T) {
	base := newWSTestServer(t)

	t.Run("invalid uuid", func(t *testing.T) {
		conn := dialWS(t, base+"/ws/connect/", "not-a-uuid")
		env := readEnv(t, conn)
		expectEnv(t, env, "device.connect", false, "A valid uuid should be at index 0 in subprotocols")
		if string(env.Data) != "null" {
			t.Fatalf("expected null data, got %s", env.Data)
		}
		expectClosed(t, conn, websocket.CloseNormalClosure)
	})

	t.Run("missing subprotocol", func(t *testing.T) {
		conn := dialWS(t, base+"/ws/connect/", "")
		expectEnv(t, readEnv(t, conn), "device.connect", false, "A valid uuid should be at index 0 in subprotocols")
	})

	t.Run("register and set alias", func(t *testing.T) {
		conn := dialWS(t, base+"/ws/connect/", wsDeviceA)
		env := readEnv(t, conn)
		expectEnv(t, env, "device.connect", true, "Current device data")

		var session wireSession
		if err := json.Unmarshal(env.Data, &session); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		if session.DID != wsDeviceA || session.Alias != nil || session.TTL == 0 {
			t.Fatalf("unexpected session %+v", session)
		}
		if len(session.Groups) != 1 || session.Groups[0] != "broadcast" {
			t.Fatalf("unexpected groups %v", session.Groups)
		}
		if !strings.HasPrefix(session.Channel, "specific.") {
			t.Fatalf("unexpected channel %q", session.Channel)
		}

		_ = conn.WriteJSON(map[string]string{"alias": "Marcus Rashford"})
		env = readEnv(t, conn)
		expectEnv(t, env, "device.setup", true, "Alias accepted")
		if err := json.Unmarshal(env.Data, &session); err != nil {
			t.Fatalf("decode session: %v", err)
		}
		if session.Alias == nil || *session.Alias != "marcus_rashford.linq" {
			t.Fatalf("unexpected alias %v", session.Alias)
		}

		_ = conn.WriteJSON(map[string]string{"alias": "marcus rashford"})
		expectEnv(t, readEnv(t, conn), "device.setup", false, "marcus_rashford.linq is already your device alias")
	})

	t.Run("alias rules", func(t *testing.T) {
		connectWithAlias(t, base, "7c8d9e0f-2b3c-4d5e-9f60-1a2b3c4d5e6f", "holder")
		conn := dialWS(t, base+"/ws/connect/", wsDeviceB)
		readEnv(t, conn)

		_ = conn.WriteJSON(map[string]interface{}{"alias": 1942})
		env := readEnv(t, conn)
		expectEnv(t, env, "device.setup", false, "Alias must be a mix of alphanumeric characters")
		var data map[string]string
		_ = json.Unmarshal(env.Data, &data)
		if data["alias"] != "1942" {
			t.Fatalf("expected rejected alias in data, got %s", env.Data)
		}

		_ = conn.WriteJSON(map[string]string{"alias": "Sneaky Linq"})
		expectEnv(t, readEnv(t, conn), "device.setup", false, "sneaky_linq is not allowed")

		_ = conn.WriteJSON(map[string]string{"alias": "Holder"})
		expectEnv(t, readEnv(t, conn), "device.setup", false, "Alias already taken")
	})

	t.Run("bad payloads", func(t *testing.T) {
		conn := dialWS(t, base+"/ws/connect/", "5d6e7f80-1a2b-4c3d-8e9f-0a1b2c3d4e5f")
		readEnv(t, conn)

		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		expectEnv(t, readEnv(t, conn), "device.setup", false, "Message(s) must be in json format")

		_ = conn.WriteJSON(map[string]string{"name": "marcus"})
		expectEnv(t, readEnv(t, conn), "device.setup", false, "Missing key 'alias'")
	})
}

func TestScanRole(t *testing.T) {
	base := newWSTestServer(t)

	t.Run("malformed path id is 404", func(t *testing.T) {
		dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
		_, resp, err := dialer.Dial(base+"/ws/scan/connect/not-a-uuid/", nil)
		if err == nil {
			t.Fatalf("expected handshake failure")
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %+v", resp)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		scanner := dialWS(t, base+"/ws/scan/connect/"+wsDeviceB+"/", "")
		expectEnv(t, readEnv(t, scanner), "scan.connect", false, "Invalid channel or device already setup")
		expectClosed(t, scanner, websocket.CloseNormalClosure)
	})

	t.Run("pair device", func(t *testing.T) {
		device := dialWS(t, base+"/ws/connect/", wsDeviceA)
		expectEnv(t, readEnv(t, device), "device.connect", true, "Current device data")

		scanner := dialWS(t, base+"/ws/scan/connect/"+wsDeviceA+"/", "")
		env := readEnv(t, scanner)
		expectEnv(t, env, "scan.connect", true, "Scanned successfully")
		var target wireSession
		_ = json.Unmarshal(env.Data, &target)
		if target.DID != wsDeviceA {
			t.Fatalf("expected target data, got %s", env.Data)
		}
		expectEnv(t, readEnv(t, device), "scan.connect", true, "Scanned successfully")

		_ = scanner.WriteJSON(map[string]string{"alias": "abc"})
		expectEnv(t, readEnv(t, scanner), "scan.setup", false, "Alias must be between 4 to 15 characters long")

		_ = scanner.WriteJSON(map[string]string{"alias": "Bruno"})
		env = readEnv(t, scanner)
		expectEnv(t, env, "scan.setup", true, "Alias accepted")
		var aliasData map[string]string
		_ = json.Unmarshal(env.Data, &aliasData)
		if aliasData["alias"] != "bruno.linq" {
			t.Fatalf("unexpected alias data %s", env.Data)
		}
		expectClosed(t, scanner, websocket.CloseNormalClosure)

		env = readEnv(t, device)
		expectEnv(t, env, "scan.setup", true, "Alias accepted")
		_ = json.Unmarshal(env.Data, &target)
		if target.Alias == nil || *target.Alias != "bruno.linq" {
			t.Fatalf("device not notified with alias, got %s", env.Data)
		}

		again := dialWS(t, base+"/ws/scan/connect/"+wsDeviceA+"/", "")
		expectEnv(t, readEnv(t, again), "scan.connect", false, "Invalid channel or device already setup")
	})
}

func TestChatRole(t *testing.T) {
	base := newWSTestServer(t)

	connectWithAlias(t, base, wsDeviceA, "marcus")
	connectWithAlias(t, base, wsDeviceB, "bruno")

	chatA := dialWS(t, base+"/ws/chat/p2p/", wsDeviceA)
	expectEnv(t, readEnv(t, chatA), "chat.connect", true, "Current device data")
	chatB := dialWS(t, base+"/ws/chat/p2p/", wsDeviceB)
	expectEnv(t, readEnv(t, chatB), "chat.connect", true, "Current device data")

	t.Run("relay between aliases", func(t *testing.T) {
		_ = chatA.WriteJSON(map[string]string{"to": "bruno.linq", "message": "hola"})

		env := readEnv(t, chatB)
		expectEnv(t, env, "chat.message", true, "received")
		var in wireChat
		_ = json.Unmarshal(env.Data, &in)
		if in.Alias != "marcus.linq" || in.DID != wsDeviceA || in.Message != "hola" {
			t.Fatalf("unexpected relayed payload %+v", in)
		}

		env = readEnv(t, chatA)
		expectEnv(t, env, "chat.message", true, "send")
		var echo wireChat
		_ = json.Unmarshal(env.Data, &echo)
		if echo.Alias != "bruno.linq" || echo.DID != wsDeviceB || echo.Message != "hola" {
			t.Fatalf("unexpected echo payload %+v", echo)
		}
	})

	t.Run("offline recipient", func(t *testing.T) {
		_ = chatA.WriteJSON(map[string]string{"to": "ghost.linq", "message": "hola"})
		expectEnv(t, readEnv(t, chatA), "chat.message", false, "ghost.linq is offline or not available")
	})

	t.Run("missing key", func(t *testing.T) {
		_ = chatA.WriteJSON(map[string]string{"to": "bruno.linq"})
		expectEnv(t, readEnv(t, chatA), "chat.message", false, "Missing key 'message'")
	})

	t.Run("setup not complete", func(t *testing.T) {
		const id = "5d6e7f80-1a2b-4c3d-8e9f-0a1b2c3d4e5f"
		device := dialWS(t, base+"/ws/connect/", id)
		readEnv(t, device)

		chat := dialWS(t, base+"/ws/chat/p2p/", id)
		expectEnv(t, readEnv(t, chat), "chat.connect", false, "Device setup not complete")
		expectClosed(t, chat, websocket.CloseNormalClosure)
	})

	t.Run("invalid uuid", func(t *testing.T) {
		chat := dialWS(t, base+"/ws/chat/p2p/", "nope")
		expectEnv(t, readEnv(t, chat), "chat.connect", false, "A valid uuid should be at index 0 in subprotocols")
	})
}
