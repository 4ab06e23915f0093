package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers transport failures and non-2xx responses
	ErrNetwork = errors.New("inference: network error")

	// ErrDecode is returned when the response body is not a valid prediction
	ErrDecode = errors.New("inference: invalid response")
)

// APIError is a non-2xx response from the prediction endpoint
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inference: endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("inference: endpoint returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrNetwork
}

// IsNoDigit reports whether the backend rejected the frame because it found no digit
func (e *APIError) IsNoDigit() bool {
	return e.StatusCode == 400 && e.Message == "No digit found"
}
