package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
)

// Deliverer es el primitivo punto a punto del transporte.
type Deliverer interface {
	Send(ctx context.Context, address string, env domain.Envelope) error
}

// Delivery describe un mensaje entregado, para el eco al remitente.
type Delivery struct {
	ToAlias   string
	ToID      string
	FromAlias string
	Message   string
}

// RelayRouter resuelve un alias a su sesion viva y le reenvia el mensaje.
type RelayRouter struct {
	logger    *zap.Logger
	registry  *RegistryService
	deliverer Deliverer
}

func NewRelayRouter(logger *zap.Logger, registry *RegistryService, deliverer Deliverer) *RelayRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayRouter{
		logger:    logger,
		registry:  registry,
		deliverer: deliverer,
	}
}

// Send entrega message al dueno de toAlias. No hay cola: si el destino no esta
// vivo devuelve *UnavailableError.
func (r *RelayRouter) Send(ctx context.Context, fromID, toAlias, message string) (Delivery, error) {
	toAlias = CanonicalAlias(toAlias)

	sender, err := r.registry.Session(ctx, fromID)
	if err != nil {
		return Delivery{}, err
	}

	toID, err := r.registry.ResolveAlias(ctx, toAlias)
	if err != nil {
		return Delivery{}, err
	}
	if toID == "" {
		return Delivery{}, &UnavailableError{Alias: toAlias}
	}
	recipient, err := r.registry.Session(ctx, toID)
	if errors.Is(err, ErrSessionNotFound) || (err == nil && recipient.Channel == "") {
		return Delivery{}, &UnavailableError{Alias: toAlias}
	}
	if err != nil {
		return Delivery{}, err
	}

	env := domain.OK(domain.EventChatMessage, "received", domain.ChatMessage{
		Alias:   sender.Alias,
		DID:     sender.ID,
		Message: message,
	})
	if err := r.deliverer.Send(ctx, recipient.Channel, env); err != nil {
		r.logger.Debug("relay delivery failed",
			zap.String("to_alias", toAlias),
			zap.String("channel", recipient.Channel),
			zap.Error(err),
		)
		return Delivery{}, &UnavailableError{Alias: toAlias, Cause: err}
	}

	if err := r.registry.Touch(ctx, fromID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		r.logger.Warn("refresh sender ttl failed", zap.String("session_id", fromID), zap.Error(err))
	}

	return Delivery{
		ToAlias:   toAlias,
		ToID:      recipient.ID,
		FromAlias: sender.Alias,
		Message:   message,
	}, nil
}
