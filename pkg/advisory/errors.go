package advisory

import "errors"

var (
	// ErrNoProviderAvailable indicates neither the requested nor the
	// default provider is registered.
	ErrNoProviderAvailable = errors.New("advisory: no provider available")
)
