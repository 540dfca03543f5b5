package relay

import "errors"

var (
	ErrIdentityRequired = errors.New("identity parameter required")
	ErrIdentityInUse    = errors.New("identity already in use")
	ErrConnClosed       = errors.New("connection is not open")
)
