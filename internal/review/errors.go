package review

import "errors"

// Sentinel errors for command handling. Store errors are reported as the
// storage package's sentinels.
var (
	ErrMalformedArgument = errors.New("review: malformed command argument")
	ErrUnknownCommand    = errors.New("review: unknown command")
)
