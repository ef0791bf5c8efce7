package http

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
	"sneaky-linq/internal/service"
)

// chatConsumer atiende /ws/chat/p2p/: solo dispositivos con alias pueden
// enviar y recibir mensajes directos.
type chatConsumer struct {
	connection
	registry   *service.RegistryService
	router     *service.RelayRouter
	recorder   ConnectionRecorder
	did        string
	registered bool
}

func (c *chatConsumer) OnConnect(ctx context.Context) bool {
	if !service.ValidateSessionID(c.did) {
		c.fail(ctx, domain.EventChatConnect, msgInvalidUUID)
		return false
	}

	// Se verifica el alias antes de tocar el registro para no robarle el canal
	// a una conexion de configuracion que sigue abierta.
	existing, err := c.registry.Session(ctx, c.did)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.fail(ctx, domain.EventChatConnect, msgSetupIncomplete)
		return false
	case err != nil:
		c.fatal(ctx, domain.EventChatConnect, err)
		return false
	case !existing.HasAlias():
		c.fail(ctx, domain.EventChatConnect, msgSetupIncomplete)
		return false
	}

	session, err := c.registry.Connect(ctx, c.did, c.address)
	if err != nil {
		c.fatal(ctx, domain.EventChatConnect, err)
		return false
	}
	c.registered = true
	c.layer.GroupAdd(service.BroadcastGroup, c.address)
	c.reply(ctx, domain.OK(domain.EventChatConnect, msgDeviceData, session.Data()))
	return true
}

func (c *chatConsumer) OnMessage(ctx context.Context, raw []byte) {
	fields, err := decodeFields(raw, "to", "message")
	if err != nil {
		c.reply(ctx, domain.Fail(domain.EventChatMessage, err.Error(), nil))
		return
	}

	delivery, err := c.router.Send(ctx, c.did, fields["to"], fields["message"])
	var unavailable *service.UnavailableError
	switch {
	case err == nil:
		c.recorder.ObserveRelay("delivered")
		c.reply(ctx, domain.OK(domain.EventChatMessage, msgMessageDispatched, domain.ChatMessage{
			Alias:   delivery.ToAlias,
			DID:     delivery.ToID,
			Message: delivery.Message,
		}))
	case errors.As(err, &unavailable):
		c.recorder.ObserveRelay("unavailable")
		c.reply(ctx, domain.Fail(domain.EventChatMessage, unavailable.Error(), nil))
	case errors.Is(err, service.ErrSessionNotFound):
		c.recorder.ObserveRelay("sender_expired")
		c.logger.Info("sender session expired", zap.String("session_id", c.did))
		c.fail(ctx, domain.EventChatMessage, msgSessionExpired)
	default:
		c.recorder.ObserveRelay("error")
		c.fatal(ctx, domain.EventChatMessage, err)
	}
}

func (c *chatConsumer) OnDisconnect(ctx context.Context) {
	c.layer.GroupDiscard(service.BroadcastGroup, c.address)
	if !c.registered {
		return
	}
	if err := c.registry.Disconnect(ctx, c.did, c.address); err != nil {
		c.logger.Warn("release session failed", zap.String("session_id", c.did), zap.Error(err))
	}
}
