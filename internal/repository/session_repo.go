package repository

import (
	"context"
	"errors"
	"time"

	"sneaky-linq/internal/domain"
)

// DefaultSessionTTL es la vida de una sesion desde su ultima actividad.
const DefaultSessionTTL = 2 * time.Hour

var ErrSessionNotFound = errors.New("session not found")

// SessionStore define el ciclo de vida de los registros efimeros de dispositivos.
type SessionStore interface {
	CreateOrRefresh(ctx context.Context, id, address string) (domain.Session, error)
	Get(ctx context.Context, id string) (domain.Session, error)
	JoinGroup(ctx context.Context, id, group string) error
	TouchTTL(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// DeleteIfAddress borra la sesion solo si address sigue siendo su canal de entrega.
	DeleteIfAddress(ctx context.Context, id, address string) (bool, error)
}

// ClaimMode ajusta las reglas de Claim.
type ClaimMode int

const (
	// ClaimReplace reemplaza el alias previo de la sesion.
	ClaimReplace ClaimMode = iota
	// ClaimIfUnaliased falla con ClaimAlreadyPaired si la sesion ya tiene alias.
	ClaimIfUnaliased
)

// ClaimOutcome es el resultado de un Claim. Los valores coinciden con los
// codigos que devuelve el script de Redis.
type ClaimOutcome int

const (
	ClaimAccepted ClaimOutcome = iota
	ClaimAlreadyYours
	ClaimTaken
	ClaimAlreadyPaired
	ClaimSessionMissing
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimAccepted:
		return "accepted"
	case ClaimAlreadyYours:
		return "already_yours"
	case ClaimTaken:
		return "taken"
	case ClaimAlreadyPaired:
		return "already_paired"
	case ClaimSessionMissing:
		return "session_missing"
	default:
		return "unknown"
	}
}

// AliasDirectory mantiene el mapeo biunivoco alias <-> sesion.
type AliasDirectory interface {
	Claim(ctx context.Context, id, alias string, mode ClaimMode) (ClaimOutcome, error)
	Release(ctx context.Context, id string) error
	AliasOf(ctx context.Context, id string) (string, error)
	SessionOf(ctx context.Context, alias string) (string, error)
}

// Registry agrupa ambos contratos sobre un mismo backend.
type Registry interface {
	SessionStore
	AliasDirectory
	Ping(ctx context.Context) error
}
