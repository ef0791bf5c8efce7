package channels

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
)

const defaultWriteTimeout = 10 * time.Second

// Conn es el lado de escritura de una conexion websocket.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type client struct {
	conn    Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *client) write(env domain.Envelope, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

func (c *client) close(code int, reason string, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	return c.conn.Close()
}

// Hub implementa Layer dentro del proceso.
type Hub struct {
	logger       *zap.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
	groups  map[string]map[string]struct{}
}

func NewHub(logger *zap.Logger, writeTimeout time.Duration) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		logger:       logger,
		writeTimeout: writeTimeout,
		clients:      make(map[string]*client),
		groups:       make(map[string]map[string]struct{}),
	}
}

// NewAddress genera una direccion de entrega unica para una conexion.
func (h *Hub) NewAddress() string {
	return "specific." + uuid.NewString()
}

func (h *Hub) Register(address string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[address] = &client{conn: conn}
}

func (h *Hub) Unregister(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, address)
	for group, members := range h.groups {
		delete(members, address)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

func (h *Hub) Alive(address string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[address]
	return ok && !c.closed.Load()
}

func (h *Hub) Send(ctx context.Context, address string, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.clients[address]
	h.mu.RUnlock()
	if !ok {
		return ErrChannelNotFound
	}
	return c.write(env, h.writeTimeout)
}

func (h *Hub) GroupAdd(group, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[address] = struct{}{}
}

func (h *Hub) GroupDiscard(group, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, address)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// GroupSend envia env a cada miembro del grupo y devuelve cuantos lo recibieron.
func (h *Hub) GroupSend(ctx context.Context, group string, env domain.Envelope) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.groups[group]))
	for address := range h.groups[group] {
		if c, ok := h.clients[address]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := c.write(env, h.writeTimeout); err != nil {
			h.logger.Debug("group send failed", zap.String("group", group), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Close envia un frame de cierre con code y cierra la conexion.
func (h *Hub) Close(address string, code int, reason string) error {
	h.mu.RLock()
	c, ok := h.clients[address]
	h.mu.RUnlock()
	if !ok {
		return ErrChannelNotFound
	}
	return c.close(code, reason, h.writeTimeout)
}
