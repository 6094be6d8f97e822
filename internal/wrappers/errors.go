package wrappers

import (
	"errors"
	"fmt"
)

// ErrUnavailable is matched by every UnavailableError.
//
//	if errors.Is(err, wrappers.ErrUnavailable) {
//	    // a declared wrapper cannot be applied on this target
//	}
var ErrUnavailable = errors.New("wrapper unavailable")

// UnavailableError reports a wrapper that cannot be applied: its binary is
// missing on the target or it lacks something it needs.
type UnavailableError struct {
	Wrapper string
	Reason  string
	Err     error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("wrapper %s unavailable: %s", e.Wrapper, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}
