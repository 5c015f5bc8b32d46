package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors each broker operation wraps with context via
// fmt.Errorf("...: %w", Err...) so callers can errors.Is against the
// category.
var (
	// ErrTransport marks a backing-store connectivity or command
	// failure. Retried with backoff at the loop level; bubbled to the
	// caller for producer operations.
	ErrTransport = errors.New("broker: transport error")

	// ErrSerialization marks a payload encode/decode failure.
	ErrSerialization = errors.New("broker: serialization error")
)

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("broker: %s: %w: %v", op, ErrTransport, err)
}

func wrapSerialization(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("broker: %s: %w: %v", op, ErrSerialization, err)
}
