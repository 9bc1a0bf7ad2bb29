package transport

import "errors"

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnecting = errors.New("connection attempt already in progress")
	ErrConnection        = errors.New("connection failed")
)

// TransportError carries the operation that failed with the game connection.
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Address != "" {
		return e.Op + " " + e.Address + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
