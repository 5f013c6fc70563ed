package types

import "errors"

// Record-related errors
var (
	// ErrUnknownFlavor is returned when a flavor name is neither query nor protocol
	ErrUnknownFlavor = errors.New("unknown log flavor")
)
