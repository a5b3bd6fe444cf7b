package domain

import "errors"

var (
	ErrTransportClosed     = errors.New("transport closed")
	ErrBadArgument         = errors.New("bad argument")
	ErrUnsupported         = errors.New("unsupported")
	ErrInvalidState        = errors.New("invalid state")
	ErrMalformedParameters = errors.New("malformed parameters")
	ErrDeviceNotLoaded     = errors.New("device not loaded")
)
