package envelope

import (
	"encoding/json"
	"errors"
)

// ErrUnsuccessful is returned by Err when the portal reported success=false.
var ErrUnsuccessful = errors.New("portal reported failure")

// Envelope is the {success, data, message} wrapper every portal response uses.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK builds a successful envelope around data.
func OK(data json.RawMessage) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail builds an unsuccessful envelope carrying message.
func Fail(message string) Envelope {
	return Envelope{Success: false, Message: message}
}

// Err returns nil for a successful envelope, otherwise an error wrapping
// ErrUnsuccessful with the portal's message.
// INVARIANT: e is not mutated
func (e Envelope) Err() error {
	if e.Success {
		return nil
	}
	if e.Message == "" {
		return ErrUnsuccessful
	}
	return &portalError{message: e.Message}
}

type portalError struct {
	message string
}

func (p *portalError) Error() string { return ErrUnsuccessful.Error() + ": " + p.message }

func (p *portalError) Unwrap() error { return ErrUnsuccessful }
