package http

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
	"sneaky-linq/internal/repository"
	"sneaky-linq/internal/service"
)

// connectConsumer atiende /ws/connect/: registra el dispositivo y le permite
// fijar su propio alias.
type connectConsumer struct {
	connection
	registry   *service.RegistryService
	did        string
	registered bool
}

func (c *connectConsumer) OnConnect(ctx context.Context) bool {
	if !service.ValidateSessionID(c.did) {
		c.fail(ctx, domain.EventDeviceConnect, msgInvalidUUID)
		return false
	}
	session, err := c.registry.Connect(ctx, c.did, c.address)
	if err != nil {
		c.fatal(ctx, domain.EventDeviceConnect, err)
		return false
	}
	c.registered = true
	c.layer.GroupAdd(service.BroadcastGroup, c.address)
	c.reply(ctx, domain.OK(domain.EventDeviceConnect, msgDeviceData, session.Data()))
	return true
}

func (c *connectConsumer) OnMessage(ctx context.Context, raw []byte) {
	fields, err := decodeFields(raw, "alias")
	if err != nil {
		c.reply(ctx, domain.Fail(domain.EventDeviceSetup, err.Error(), nil))
		return
	}

	session, err := c.registry.ClaimAlias(ctx, c.did, fields["alias"], repository.ClaimReplace)
	var aliasErr *service.AliasError
	var conflictErr *service.ConflictError
	switch {
	case err == nil:
		c.reply(ctx, domain.OK(domain.EventDeviceSetup, msgAliasAccepted, session.Data()))
	case errors.As(err, &aliasErr):
		c.reply(ctx, domain.Fail(domain.EventDeviceSetup, aliasErr.Reason, domain.AliasData{Alias: aliasErr.Alias}))
	case errors.As(err, &conflictErr):
		c.reply(ctx, domain.Fail(domain.EventDeviceSetup, conflictErr.Reason, domain.AliasData{Alias: conflictErr.Alias}))
	case errors.Is(err, service.ErrTooManyAttempts):
		c.reply(ctx, domain.Fail(domain.EventDeviceSetup, err.Error(), nil))
	case errors.Is(err, service.ErrSessionNotFound):
		c.logger.Info("session expired during setup", zap.String("session_id", c.did))
		c.fail(ctx, domain.EventDeviceSetup, msgSessionExpired)
	default:
		c.fatal(ctx, domain.EventDeviceSetup, err)
	}
}

func (c *connectConsumer) OnDisconnect(ctx context.Context) {
	c.layer.GroupDiscard(service.BroadcastGroup, c.address)
	if !c.registered {
		return
	}
	if err := c.registry.Disconnect(ctx, c.did, c.address); err != nil {
		c.logger.Warn("release session failed", zap.String("session_id", c.did), zap.Error(err))
	}
}
