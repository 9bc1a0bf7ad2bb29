package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned before any request when the session has no
	// bearer token.
	ErrMissingToken = &PreconditionError{Reason: "API token not set"}

	// ErrNoImage means the gateway answered but carried no image payload.
	ErrNoImage = errors.New("no image in response")
)

// NoResponse stands in for a completion that came back without content.
const NoResponse = "No response from LLM"

type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// HTTPError is a non-2xx answer from the gateway.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	if e.Body != "" {
		return fmt.Sprintf("API request failed: %s %s: %s", e.Endpoint, status, e.Body)
	}
	return fmt.Sprintf("API request failed: %s %s", e.Endpoint, status)
}
