package channels

import (
	"context"
	"errors"

	"sneaky-linq/internal/domain"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelClosed   = errors.New("channel closed")
)

// Layer es el colaborador de transporte: envio punto a punto, grupos y cierre
// de conexiones identificadas por su direccion de entrega.
type Layer interface {
	NewAddress() string
	Register(address string, conn Conn)
	Unregister(address string)
	Alive(address string) bool
	Send(ctx context.Context, address string, env domain.Envelope) error
	GroupAdd(group, address string)
	GroupDiscard(group, address string)
	GroupSend(ctx context.Context, group string, env domain.Envelope) int
	Close(address string, code int, reason string) error
}
