package http

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
	"sneaky-linq/internal/service"
)

// scanConsumer atiende /ws/scan/connect/:did/: el escaner fija el alias del
// dispositivo cuyo QR leyo y luego se desconecta.
type scanConsumer struct {
	connection
	handshake *service.PairingHandshake
	target    domain.Session
	recorder  ConnectionRecorder
}

func (c *scanConsumer) OnConnect(ctx context.Context) bool {
	target, err := c.handshake.Attach(ctx)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrAlreadyPaired),
		errors.Is(err, service.ErrMalformedIdentifier):
		c.fail(ctx, domain.EventScanConnect, msgScanRejected)
		return false
	default:
		c.handshake.Abort()
		c.fatal(ctx, domain.EventScanConnect, err)
		return false
	}
	c.target = target

	c.reply(ctx, domain.OK(domain.EventScanConnect, msgScanned, target.Data()))
	if err := c.layer.Send(ctx, target.Channel, domain.OK(domain.EventScanConnect, msgScanned, nil)); err != nil {
		c.logger.Warn("notify scanned device failed", zap.String("session_id", target.ID), zap.Error(err))
	}
	return true
}

func (c *scanConsumer) OnMessage(ctx context.Context, raw []byte) {
	if c.handshake.State().Terminal() {
		return
	}
	fields, err := decodeFields(raw, "alias")
	if err != nil {
		c.reply(ctx, domain.Fail(domain.EventScanSetup, err.Error(), nil))
		return
	}

	target, err := c.handshake.SubmitAlias(ctx, fields["alias"])
	var aliasErr *service.AliasError
	var conflictErr *service.ConflictError
	switch {
	case err == nil:
		if err := c.layer.Send(ctx, target.Channel, domain.OK(domain.EventScanSetup, msgAliasAccepted, target.Data())); err != nil {
			c.logger.Warn("notify paired device failed", zap.String("session_id", target.ID), zap.Error(err))
		}
		c.reply(ctx, domain.OK(domain.EventScanSetup, msgAliasAccepted, domain.AliasData{Alias: target.Alias}))
		c.close(websocket.CloseNormalClosure, "paired")
	case errors.As(err, &aliasErr):
		c.reply(ctx, domain.Fail(domain.EventScanSetup, aliasErr.Reason, domain.AliasData{Alias: aliasErr.Alias}))
	case errors.As(err, &conflictErr):
		c.reply(ctx, domain.Fail(domain.EventScanSetup, conflictErr.Reason, domain.AliasData{Alias: conflictErr.Alias}))
	case errors.Is(err, service.ErrTooManyAttempts):
		c.reply(ctx, domain.Fail(domain.EventScanSetup, err.Error(), nil))
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrAlreadyPaired):
		c.fail(ctx, domain.EventScanSetup, msgScanRejected)
	default:
		c.handshake.Abort()
		c.fatal(ctx, domain.EventScanSetup, err)
	}
}

func (c *scanConsumer) OnDisconnect(_ context.Context) {
	c.handshake.Abort()
	c.recorder.ObservePairing(c.handshake.State().String())
}
