package models

import "errors"

var (
	// ErrInvalidReport marks malformed or out-of-range client input
	ErrInvalidReport = errors.New("invalid position report")
	// ErrInvalidQuery marks a malformed read request
	ErrInvalidQuery = errors.New("invalid query")
	// ErrDeviceUnresolvable is returned when a report names no known device or phone number
	ErrDeviceUnresolvable = errors.New("device could not be resolved")
	// ErrDeviceNotFound is returned by lookups of a device id that does not exist
	ErrDeviceNotFound = errors.New("device not found")
	// ErrTowerNotFound means neither the cache nor the provider knows the tower
	ErrTowerNotFound = errors.New("tower not found")
	// ErrProviderUnavailable covers network errors, bad status codes and quota exhaustion
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderNoResult is a well-formed provider answer without a usable result
	ErrProviderNoResult = errors.New("provider returned no result")
)

// IsClientError reports whether err was caused by the caller's input
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidReport) || errors.Is(err, ErrDeviceUnresolvable) || errors.Is(err, ErrInvalidQuery)
}
