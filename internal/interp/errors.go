package interp

import "errors"

var (
	// ErrNotInitialized is returned when the runtime is used before Init.
	ErrNotInitialized = errors.New("runtime is not initialized")
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("runtime is already initialized")
	// ErrFinalizing is returned when an instance is requested after Finalize began.
	ErrFinalizing = errors.New("runtime is finalizing")

	ErrUnsupportedIsolation  = errors.New("unsupported isolation configuration")
	ErrUnknownExtension      = errors.New("unknown extension")
	ErrIncompatibleExtension = errors.New("extension does not support multiple interpreters")

	// ErrInstanceUsed is returned when a second script is run on an instance.
	ErrInstanceUsed = errors.New("instance already ran a script")
	// ErrInstanceDestroyed is returned when a destroyed instance is used.
	ErrInstanceDestroyed = errors.New("instance is destroyed")

	// ErrCapability is returned by builtins the instance is not allowed to use.
	ErrCapability = errors.New("capability disabled for this interpreter")
)
