package mediation

import "errors"

var (
	// ErrMissingTool is returned for a request without a tool id.
	ErrMissingTool = errors.New("mediation: request has no tool id")

	// ErrMissingContext is returned for a request without a context id. The
	// caller must say where the call originates; the policy never guesses.
	ErrMissingContext = errors.New("mediation: request has no context id")

	// ErrDuplicateCall is returned when a call id is already in flight.
	ErrDuplicateCall = errors.New("mediation: call already in flight")

	// ErrUnknownCall is returned by Cancel for a call that is not in flight.
	ErrUnknownCall = errors.New("mediation: unknown call")

	// ErrShuttingDown is returned for requests arriving during shutdown.
	ErrShuttingDown = errors.New("mediation: mediator is shutting down")
)
