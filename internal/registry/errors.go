package registry

import (
	"errors"
	"fmt"
)

// ErrFieldNotFound is the "field not found" sentinel returned by GetField
// and Walk. Callers probe arbitrary fields routinely, so it is expected
// rather than exceptional.
var ErrFieldNotFound = errors.New("field not found")

// ErrPathTooDeep is returned when a dotted path has more segments than
// MaxPathDepth.
var ErrPathTooDeep = errors.New("path exceeds maximum depth")

// UnknownTypeError is returned when a type id is not registered.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown entity type %q", e.Type)
}

// IsUnknownType reports whether err is (or wraps) an UnknownTypeError.
func IsUnknownType(err error) bool {
	var ute *UnknownTypeError
	return errors.As(err, &ute)
}

// ValidationError reports a value or schema that does not fit a type
// descriptor.
type ValidationError struct {
	Type    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Type, e.Field, e.Message)
}
