package xdelta

import (
	"errors"
	"fmt"
)

// Every error returned by this package wraps one of these values, so callers
// can classify failures with errors.Is.
var (
	// ErrInvalidConfig is returned when a Stream or Source is created with
	// an unusable configuration.
	ErrInvalidConfig = errors.New("xdelta: invalid configuration")

	// ErrProtocol is returned when a method is called in a state that does
	// not allow it. The stream is not affected, and a correct call may
	// follow.
	ErrProtocol = errors.New("xdelta: call not valid in this state")

	// ErrInvalidInput is returned when a delta is malformed or refers to
	// data outside its source or target. The stream fails.
	ErrInvalidInput = errors.New("xdelta: invalid delta")

	// ErrChecksum is returned when a decoded window does not match its
	// checksum. The stream fails.
	ErrChecksum = errors.New("xdelta: checksum mismatch")

	// ErrSource is returned when the source block a stream asked for was
	// not supplied. The stream fails.
	ErrSource = errors.New("xdelta: source block unavailable")

	// ErrResource is returned when a delta needs a buffer larger than the
	// configured limits allow. The stream fails.
	ErrResource = errors.New("xdelta: resource limit exceeded")
)

func protocolError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, a...))
}

func invalidInput(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Errorf(format, a...))
}

func configError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, a...))
}
