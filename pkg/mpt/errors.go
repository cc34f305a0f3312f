package mpt

import (
	"errors"
	"fmt"
)

// ErrUnsatisfiable is the single error taxonomy of the relation system: any
// violated constraint makes the whole instance unsatisfiable. The wrapped
// message names the failing relation for the surrounding pipeline; nothing
// here is recoverable.
var ErrUnsatisfiable = errors.New("mpt: instance unsatisfiable")

func violationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnsatisfiable}, args...)...)
}
