package http

import (
	"context"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sneaky-linq/internal/channels"
	"sneaky-linq/internal/domain"
)

const (
	msgInvalidUUID       = "A valid uuid should be at index 0 in subprotocols"
	msgDeviceData        = "Current device data"
	msgSetupIncomplete   = "Device setup not complete"
	msgSessionExpired    = "Device session expired"
	msgServiceDown       = "Service unavailable"
	msgScanned           = "Scanned successfully"
	msgScanRejected      = "Invalid channel or device already setup"
	msgAliasAccepted     = "Alias accepted"
	msgMessageDispatched = "send"
)

// Consumer es el comportamiento de una conexion segun su rol. Los tres eventos
// llegan en orden desde la misma goroutine de lectura.
type Consumer interface {
	// OnConnect devuelve false si la conexion ya fue cerrada y no debe leerse.
	OnConnect(ctx context.Context) bool
	OnMessage(ctx context.Context, raw []byte)
	OnDisconnect(ctx context.Context)
}

// connection agrupa lo que todo rol necesita de su conexion.
type connection struct {
	logger  *zap.Logger
	layer   channels.Layer
	address string
}

func (c *connection) reply(ctx context.Context, env domain.Envelope) {
	if err := c.layer.Send(ctx, c.address, env); err != nil {
		c.logger.Debug("reply failed", zap.String("event", string(env.Event)), zap.Error(err))
	}
}

func (c *connection) close(code int, reason string) {
	if err := c.layer.Close(c.address, code, reason); err != nil {
		c.logger.Debug("close failed", zap.Int("code", code), zap.Error(err))
	}
}

// fail responde con status false y cierra la conexion normalmente.
func (c *connection) fail(ctx context.Context, event domain.Event, message string) {
	c.reply(ctx, domain.Fail(event, message, nil))
	c.close(websocket.CloseNormalClosure, "")
}

// fatal se usa cuando el registro no responde: no se deja estado a medias.
func (c *connection) fatal(ctx context.Context, event domain.Event, err error) {
	c.logger.Error("registry failure", zap.String("event", string(event)), zap.Error(err))
	c.reply(ctx, domain.Fail(event, msgServiceDown, nil))
	c.close(websocket.CloseInternalServerErr, "registry unavailable")
}

