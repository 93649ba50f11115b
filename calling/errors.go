package calling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the relay rejected our token. Never retried.
	ErrUnauthorized = errors.New("calling: unauthorized")

	// ErrBusy means a call already exists; at most one session lives at a time.
	ErrBusy = errors.New("calling: another call is already in progress")

	// ErrNoSession means the operation needs a session in a particular phase
	// and there is none.
	ErrNoSession = errors.New("calling: no call in the required state")

	// ErrMediaAccess means the local capture devices could not be acquired.
	// Terminal for the attempted call; no session is left behind.
	ErrMediaAccess = errors.New("calling: could not access local media")

	// ErrNegotiation means the peer sent a session description or candidate
	// the negotiation context could not use.
	ErrNegotiation = errors.New("calling: negotiation failed")
)

// APIError is a non-2xx relay response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("calling: relay returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("calling: relay returned %d", e.StatusCode)
}

// newAPIError maps a response to ErrUnauthorized or an APIError carrying the
// relay's error message when one was provided.
func newAPIError(statusCode int, body []byte) error {
	if statusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var parsed struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)

	return &APIError{
		StatusCode: statusCode,
		Message:    parsed.Error,
	}
}
