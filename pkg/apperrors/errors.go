package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrPrincipalExists     = errors.New("principal already exists in target database")
	ErrNoIntegration       = errors.New("no SQL integration configured for data store")
	ErrSecretNotResolvable = errors.New("secret reference could not be resolved")
)
