package models

import "errors"

var (
	ErrParentNotFound = errors.New("parent not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrSenderUnknown  = errors.New("sender unknown")
	ErrValidation     = errors.New("validation failed")
	ErrInternal       = errors.New("internal error")
)
