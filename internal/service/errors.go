package service

import (
	"errors"
	"fmt"

	"sneaky-linq/internal/repository"
)

var (
	ErrMalformedIdentifier  = errors.New("malformed session identifier")
	ErrAliasRejected        = errors.New("alias rejected")
	ErrAliasConflict        = errors.New("alias conflict")
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	ErrSessionNotFound      = repository.ErrSessionNotFound
	ErrAlreadyPaired        = errors.New("device already setup")
	ErrHandshakeState       = errors.New("handshake not in expected state")
	ErrTooManyAttempts      = errors.New("Too many alias attempts, try again later")
)

// AliasError describe por que un alias no paso la validacion.
type AliasError struct {
	Alias  string
	Reason string
}

func (e *AliasError) Error() string {
	return e.Reason
}

func (e *AliasError) Unwrap() error {
	return ErrAliasRejected
}

// ConflictError se devuelve cuando el alias ya pertenece a esta u otra sesion.
type ConflictError struct {
	Alias  string
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func (e *ConflictError) Unwrap() error {
	return ErrAliasConflict
}

// UnavailableError indica que el alias destino no tiene una sesion viva.
type UnavailableError struct {
	Alias string
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is offline or not available", e.Alias)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRecipientUnavailable}
	}
	return []error{ErrRecipientUnavailable, e.Cause}
}
