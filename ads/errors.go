package ads

import "errors"

// Sentinel errors for the ADS client layer.
var (
	// ErrConnClosed indicates the circuit is closed, was torn down while
	// the operation waited, or the operation used a handle issued by a
	// previous connection.
	ErrConnClosed = errors.New("ads: connection closed")
	// ErrAlreadyClosed indicates a second Close on an already closed client.
	ErrAlreadyClosed = errors.New("ads: connection already closed")
	// ErrTimeout indicates a request that saw no response within its
	// timeout. The request is abandoned; the circuit stays usable.
	ErrTimeout = errors.New("ads: request timeout")
	// ErrSendTimeout indicates the outgoing frame queue stayed full for
	// the whole send timeout.
	ErrSendTimeout = errors.New("ads: send queue timeout")
	// ErrSymbolNotFound indicates the target device does not export a
	// symbol under the requested name.
	ErrSymbolNotFound = errors.New("ads: symbol not found")
	// ErrUnknownSubscription indicates a subscription that is not live on
	// this circuit, such as a second Close on the same subscription.
	ErrUnknownSubscription = errors.New("ads: unknown subscription")
	// ErrInvalidHandle indicates a zero-valued symbol handle that never
	// came from a resolver.
	ErrInvalidHandle = errors.New("ads: invalid symbol handle")
)
