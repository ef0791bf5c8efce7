package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
	"sneaky-linq/internal/repository"
)

// BroadcastGroup es el grupo al que se une todo dispositivo conectado.
const BroadcastGroup = "broadcast"

// ClaimRecorder recibe el resultado de cada reclamo de alias.
type ClaimRecorder interface {
	ObserveClaim(outcome string)
}

// RegistryService coordina validacion, sesiones y directorio de alias.
type RegistryService struct {
	logger   *zap.Logger
	registry repository.Registry
	recorder ClaimRecorder
	limiter  ClaimLimiter
}

func NewRegistryService(logger *zap.Logger, registry repository.Registry, recorder ClaimRecorder, limiter ClaimLimiter) *RegistryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewMemoryClaimLimiter(defaultClaimWindow, defaultClaimAttempts)
	}
	return &RegistryService{
		logger:   logger,
		registry: registry,
		recorder: recorder,
		limiter:  limiter,
	}
}

// Connect registra (o refresca) la sesion de un dispositivo recien conectado.
func (s *RegistryService) Connect(ctx context.Context, id, address string) (domain.Session, error) {
	if !ValidateSessionID(id) {
		return domain.Session{}, ErrMalformedIdentifier
	}
	if _, err := s.registry.CreateOrRefresh(ctx, id, address); err != nil {
		return domain.Session{}, err
	}
	if err := s.registry.JoinGroup(ctx, id, BroadcastGroup); err != nil {
		return domain.Session{}, err
	}
	session, err := s.registry.Get(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session after connect: %w", err)
	}
	s.logger.Debug("session connected",
		zap.String("session_id", id),
		zap.String("channel", address),
		zap.Bool("has_alias", session.HasAlias()),
	)
	return session, nil
}

// Session devuelve la sesion viva con su alias actual.
func (s *RegistryService) Session(ctx context.Context, id string) (domain.Session, error) {
	return s.registry.Get(ctx, id)
}

// ClaimAlias valida candidate y lo reclama para la sesion id.
func (s *RegistryService) ClaimAlias(ctx context.Context, id, candidate string, mode repository.ClaimMode) (domain.Session, error) {
	allowed, err := s.limiter.Allow(ctx, id)
	switch {
	case err != nil:
		// sin contador el reclamo sigue adelante
		s.logger.Warn("claim limiter unavailable", zap.String("session_id", id), zap.Error(err))
	case !allowed:
		s.observe("rate_limited")
		s.logger.Info("alias attempts limited", zap.String("session_id", id))
		return domain.Session{}, ErrTooManyAttempts
	}
	alias, err := NormalizeAlias(candidate)
	if err != nil {
		s.observe("rejected")
		return domain.Session{}, err
	}

	outcome, err := s.registry.Claim(ctx, id, alias, mode)
	if err != nil {
		return domain.Session{}, err
	}
	s.observe(outcome.String())

	switch outcome {
	case repository.ClaimAccepted:
	case repository.ClaimAlreadyYours:
		return domain.Session{}, &ConflictError{Alias: alias, Reason: alias + " is already your device alias"}
	case repository.ClaimTaken:
		return domain.Session{}, &ConflictError{Alias: alias, Reason: "Alias already taken"}
	case repository.ClaimAlreadyPaired:
		return domain.Session{}, ErrAlreadyPaired
	case repository.ClaimSessionMissing:
		return domain.Session{}, ErrSessionNotFound
	default:
		return domain.Session{}, fmt.Errorf("claim alias: unknown outcome %d", outcome)
	}

	session, err := s.registry.Get(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session after claim: %w", err)
	}
	s.logger.Info("alias claimed", zap.String("session_id", id), zap.String("alias", alias))
	return session, nil
}

// ResolveAlias devuelve el id de la sesion viva duena de alias, o "" si no hay.
func (s *RegistryService) ResolveAlias(ctx context.Context, alias string) (string, error) {
	return s.registry.SessionOf(ctx, alias)
}

// Touch extiende el TTL de la sesion.
func (s *RegistryService) Touch(ctx context.Context, id string) error {
	return s.registry.TouchTTL(ctx, id)
}

// Disconnect libera la sesion si address sigue siendo su canal de entrega.
func (s *RegistryService) Disconnect(ctx context.Context, id, address string) error {
	removed, err := s.registry.DeleteIfAddress(ctx, id, address)
	if err != nil {
		return err
	}
	if removed {
		if err := s.limiter.Forget(ctx, id); err != nil {
			s.logger.Warn("forget claim attempts", zap.String("session_id", id), zap.Error(err))
		}
		s.logger.Debug("session released", zap.String("session_id", id))
	}
	return nil
}

// Ping verifica que el registro siga disponible.
func (s *RegistryService) Ping(ctx context.Context) error {
	return s.registry.Ping(ctx)
}

func (s *RegistryService) observe(outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveClaim(outcome)
	}
}

// IsRecoverable indica si err se puede responder al cliente sin cerrar la conexion.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAliasRejected) ||
		errors.Is(err, ErrAliasConflict) ||
		errors.Is(err, ErrRecipientUnavailable) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAlreadyPaired) ||
		errors.Is(err, ErrMalformedIdentifier) ||
		errors.Is(err, ErrHandshakeState) ||
		errors.Is(err, ErrTooManyAttempts)
}
