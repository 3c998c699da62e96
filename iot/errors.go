package iot

import "errors"

// Error categories of the simulator. Errors returned by the iot packages wrap one of these,
// test them with errors.Is.
var (
	// ErrConfig is a missing or invalid configuration value
	ErrConfig = errors.New("configuration error")
	// ErrCredential is malformed key material
	ErrCredential = errors.New("credential error")
	// ErrProvisioning is a failed or rejected device registration
	ErrProvisioning = errors.New("provisioning error")
	// ErrConnectionFatal is an irrecoverable loss of the hub connection
	ErrConnectionFatal = errors.New("connection fatal")
	// ErrPublish is a failed telemetry send. It is not fatal.
	ErrPublish = errors.New("publish error")
)

// IsFatal returns true if err belongs to a category which terminates the simulator
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPublish)
}
