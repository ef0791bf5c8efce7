package service

import (
	"context"
	"errors"
	"fmt"

	"sneaky-linq/internal/domain"
	"sneaky-linq/internal/repository"
)

// PairingState es el estado del handshake de escaneo.
type PairingState int

const (
	PairingAwaitingScan PairingState = iota
	PairingScanned
	PairingPaired
	PairingRejected
)

func (s PairingState) String() string {
	switch s {
	case PairingAwaitingScan:
		return "awaiting_scan"
	case PairingScanned:
		return "scanned"
	case PairingPaired:
		return "paired"
	case PairingRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal indica si el handshake ya no acepta eventos.
func (s PairingState) Terminal() bool {
	return s == PairingPaired || s == PairingRejected
}

// ChannelProbe reporta si un canal de entrega sigue vivo.
type ChannelProbe interface {
	Alive(address string) bool
}

// PairingHandshake permite que un segundo dispositivo (el escaner) fije el alias
// del dispositivo objetivo. Una instancia por conexion de escaneo; no es segura
// para uso concurrente, los eventos de una conexion llegan en orden.
type PairingHandshake struct {
	registry *RegistryService
	probe    ChannelProbe
	targetID string
	state    PairingState
}

func NewPairingHandshake(registry *RegistryService, probe ChannelProbe, targetID string) *PairingHandshake {
	return &PairingHandshake{
		registry: registry,
		probe:    probe,
		targetID: targetID,
		state:    PairingAwaitingScan,
	}
}

func (h *PairingHandshake) State() PairingState {
	return h.state
}

func (h *PairingHandshake) TargetID() string {
	return h.targetID
}

// Attach se ejecuta cuando el escaner se conecta. Devuelve la sesion objetivo si
// esta viva y sin alias; en otro caso el handshake queda rechazado.
func (h *PairingHandshake) Attach(ctx context.Context) (domain.Session, error) {
	if h.state != PairingAwaitingScan {
		return domain.Session{}, ErrHandshakeState
	}
	if !ValidateSessionID(h.targetID) {
		h.state = PairingRejected
		return domain.Session{}, ErrMalformedIdentifier
	}
	target, err := h.registry.Session(ctx, h.targetID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.state = PairingRejected
		}
		return domain.Session{}, err
	}
	if target.Channel == "" || (h.probe != nil && !h.probe.Alive(target.Channel)) {
		h.state = PairingRejected
		return domain.Session{}, ErrSessionNotFound
	}
	if target.HasAlias() {
		h.state = PairingRejected
		return domain.Session{}, ErrAlreadyPaired
	}
	h.state = PairingScanned
	return target, nil
}

// SubmitAlias reclama candidate para el objetivo. Los errores de validacion o
// conflicto dejan el handshake en Scanned para que el escaner reintente.
func (h *PairingHandshake) SubmitAlias(ctx context.Context, candidate string) (domain.Session, error) {
	if h.state != PairingScanned {
		return domain.Session{}, ErrHandshakeState
	}
	target, err := h.registry.ClaimAlias(ctx, h.targetID, candidate, repository.ClaimIfUnaliased)
	switch {
	case err == nil:
		h.state = PairingPaired
		return target, nil
	case errors.Is(err, ErrAliasRejected), errors.Is(err, ErrAliasConflict), errors.Is(err, ErrTooManyAttempts):
		return domain.Session{}, err
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrAlreadyPaired):
		h.state = PairingRejected
		return domain.Session{}, err
	default:
		return domain.Session{}, fmt.Errorf("pair %s: %w", h.targetID, err)
	}
}

// Abort lleva el handshake a Rejected, por ejemplo si el escaner se desconecta.
func (h *PairingHandshake) Abort() {
	if !h.state.Terminal() {
		h.state = PairingRejected
	}
}
