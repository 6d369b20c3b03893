package transfer

import (
	"errors"
	"fmt"
	"time"
)

// Sample User-Agent strings.
const (
	UAFirefox = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:41.0) Gecko/20100101 Firefox/41.0"
	UAChrome  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/46.0.2490.71 Safari/537.36"
	UAIE10    = "Mozilla/5.0 (Windows NT 6.1; WOW64; Trident/7.0; AS; rv:11.0) like Gecko"
)

const (
	// selectTimeout bounds each wait for activity during [Multi.Run].
	selectTimeout = time.Second
	// selectFallback is slept when the multiplexer has nothing to wait on.
	selectFallback = 100 * time.Microsecond
)

var (
	ErrTransfer          = errors.New("transfer failed")
	ErrHTTPStatus        = errors.New("unexpected status code")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAlreadyRegistered = errors.New("transfer already registered with a multi")
)

// TransferError reports that the engine could not complete the exchange.
// Code is the engine's native result code; for multiplexer faults it is the
// multiplexer code.
type TransferError struct {
	Code    int
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", ErrTransfer, e.Err)
	}
	return fmt.Sprintf("%v: %s (%d)", ErrTransfer, e.Message, e.Code)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransfer
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is returned when the exchange succeeded but the status
// falls outside [200,300) for a method other than HEAD.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// InvalidStateError is returned when a response accessor is called before
// its precondition holds.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidState, e.Op, e.Reason)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// InvalidArgumentError carries the fields that failed validation.
type InvalidArgumentError struct {
	Fields FieldErrors
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidArgument, e.Fields)
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func (e *InvalidArgumentError) Unwrap() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e.Fields
}
