package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sneaky-linq/internal/channels"
	"sneaky-linq/internal/service"
)

const (
	roleConnect = "connect"
	roleScan    = "scan"
	roleChat    = "chat"

	defaultEventTimeout = 5 * time.Second
	maxMessageSize      = 64 << 10
)

// ConnectionRecorder recibe metricas de conexiones, handshakes y relays.
type ConnectionRecorder interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	ObservePairing(state string)
	ObserveRelay(result string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened(string) {}
func (nopRecorder) ConnectionClosed(string) {}
func (nopRecorder) ObservePairing(string)   {}
func (nopRecorder) ObserveRelay(string)     {}

// WSHandler mantiene dependencias para los endpoints websocket.
type WSHandler struct {
	logger       *zap.Logger
	registry     *service.RegistryService
	router       *service.RelayRouter
	layer        channels.Layer
	recorder     ConnectionRecorder
	upgrader     websocket.Upgrader
	eventTimeout time.Duration
}

// NewWSHandler crea una instancia de WSHandler. allowedOrigins vacio acepta cualquier origen.
func NewWSHandler(
	logger *zap.Logger,
	registry *service.RegistryService,
	router *service.RelayRouter,
	layer channels.Layer,
	recorder ConnectionRecorder,
	allowedOrigins []string,
) *WSHandler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &WSHandler{
		logger:   logger,
		registry: registry,
		router:   router,
		layer:    layer,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
		eventTimeout: defaultEventTimeout,
	}
}

// Connect maneja GET /ws/connect/.
func (h *WSHandler) Connect(c *gin.Context) {
	did := firstSubprotocol(c.Request)
	h.serve(c, roleConnect, did, func(conn connection) Consumer {
		return &connectConsumer{connection: conn, registry: h.registry, did: did}
	})
}

// Scan maneja GET /ws/scan/connect/:did/.
func (h *WSHandler) Scan(c *gin.Context) {
	did := c.Param("did")
	if !service.ValidateSessionID(did) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.serve(c, roleScan, "", func(conn connection) Consumer {
		return &scanConsumer{
			connection: conn,
			handshake:  service.NewPairingHandshake(h.registry, h.layer, did),
			recorder:   h.recorder,
		}
	})
}

// Chat maneja GET /ws/chat/p2p/.
func (h *WSHandler) Chat(c *gin.Context) {
	did := firstSubprotocol(c.Request)
	h.serve(c, roleChat, did, func(conn connection) Consumer {
		return &chatConsumer{
			connection: conn,
			registry:   h.registry,
			router:     h.router,
			recorder:   h.recorder,
			did:        did,
		}
	})
}

// serve hace el upgrade y corre el loop de lectura de la conexion. Cada evento
// se procesa en orden en esta goroutine; OnDisconnect siempre se ejecuta.
func (h *WSHandler) serve(c *gin.Context, role, subprotocol string, build func(connection) Consumer) {
	var header http.Header
	if subprotocol != "" {
		header = http.Header{}
		header.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.String("role", role), zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	address := h.layer.NewAddress()
	h.layer.Register(address, ws)
	h.recorder.ConnectionOpened(role)

	logger := h.logger.With(zap.String("role", role), zap.String("channel", address))
	consumer := build(connection{logger: logger, layer: h.layer, address: address})

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
		defer cancel()
		consumer.OnDisconnect(ctx)
		h.layer.Unregister(address)
		_ = ws.Close()
		h.recorder.ConnectionClosed(role)
		logger.Debug("connection closed")
	}()

	if !h.runEvent(func(ctx context.Context) bool { return consumer.OnConnect(ctx) }) {
		return
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("ws read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		h.runEvent(func(ctx context.Context) bool {
			consumer.OnMessage(ctx, data)
			return true
		})
	}
}

func (h *WSHandler) runEvent(fn func(ctx context.Context) bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()
	return fn(ctx)
}

func firstSubprotocol(r *http.Request) string {
	protocols := websocket.Subprotocols(r)
	if len(protocols) == 0 {
		return ""
	}
	return protocols[0]
}
