package tunnel

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is reported when the remote side of a pair goes away.
var ErrChannelClosed = errors.New("remote channel closed")

// AlreadyRunningError is returned by Start while a tunnel is active.
type AlreadyRunningError struct {
	Port int
}

func (e *AlreadyRunningError) Error() string {
	if e == nil {
		return "tunnel already running"
	}
	return fmt.Sprintf("tunnel already running on 127.0.0.1:%d", e.Port)
}

// BindError reports that the local listener could not be created.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	if e == nil {
		return "bind failed"
	}
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// VerifyError is returned when every verification attempt failed. Last holds
// the most specific failure observed.
type VerifyError struct {
	Attempts int
	Last     error
}

func (e *VerifyError) Error() string {
	if e == nil {
		return "tunnel verification failed"
	}
	if e.Last == nil {
		return fmt.Sprintf("tunnel verification failed after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("tunnel verification failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *VerifyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Last
}
