package contracts

import "errors"

var (
	// ErrInvalidEnvelope indicates a message body could not be parsed into
	// a valid envelope.
	ErrInvalidEnvelope = errors.New("contracts: invalid envelope")
)
