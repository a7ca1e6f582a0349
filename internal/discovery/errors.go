package discovery

import "errors"

var (
	// ErrInvalidDomain is returned when the caller's domain cannot be turned into an origin.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrParse marks a discovery document that could not be parsed strictly.
	ErrParse = errors.New("parse discovery document")
)
