package config

import "errors"

var (
	// ErrMissingPlatform is returned when no platform file is configured.
	ErrMissingPlatform = errors.New("platform file is required")

	// ErrMissingEDC is returned when the selected EDC mode has no
	// library path or socket address to reach it.
	ErrMissingEDC = errors.New("edc library path or socket address is required")

	// ErrInvalidEDCMode is returned when EDCMode is neither "library" nor "socket".
	ErrInvalidEDCMode = errors.New("edc mode must be \"library\" or \"socket\"")

	// ErrInvalidWireFormat is returned when WireFormat is neither "binary" nor "json".
	ErrInvalidWireFormat = errors.New("wire format must be \"binary\" or \"json\"")

	// ErrInvalidMmax is returned when Mmax is negative.
	ErrInvalidMmax = errors.New("mmax must be greater than or equal to 0")
)
