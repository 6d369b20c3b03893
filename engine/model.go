package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrAlreadyAttached is returned when a handle is attached to a second
	// multiplexer before being detached from the first.
	ErrAlreadyAttached = errors.New("handle already attached to a multiplexer")
	// ErrNotAttached is returned when detaching a handle the multiplexer does not own.
	ErrNotAttached = errors.New("handle not attached")
	// ErrForeignHandle is returned when a handle from another engine implementation
	// is attached to a multiplexer.
	ErrForeignHandle = errors.New("handle belongs to a different engine")
	// ErrClosed is returned by operations on a closed handle or multiplexer.
	ErrClosed = errors.New("engine resource closed")
)

// Code is a native transfer result code. The numbering follows the one used
// by common transfer engines so codes stay meaningful in logs.
type Code int

const (
	CodeOK                     Code = 0
	CodeUnsupportedProtocol    Code = 1
	CodeURLMalformat           Code = 3
	CodeCouldntResolveHost     Code = 6
	CodeCouldntConnect         Code = 7
	CodeWriteError             Code = 23
	CodeOperationTimedout      Code = 28
	CodeSSLConnectError        Code = 35
	CodeAbortedByCallback      Code = 42
	CodeTooManyRedirects       Code = 47
	CodeGotNothing             Code = 52
	CodeSendError              Code = 55
	CodeRecvError              Code = 56
	CodePeerFailedVerification Code = 60
	CodeBadContentEncoding     Code = 61
)

var codeText = map[Code]string{
	CodeOK:                     "No error",
	CodeUnsupportedProtocol:    "Unsupported protocol",
	CodeURLMalformat:           "URL using bad/illegal format or missing URL",
	CodeCouldntResolveHost:     "Couldn't resolve host name",
	CodeCouldntConnect:         "Couldn't connect to server",
	CodeWriteError:             "Failed writing received data to disk/application",
	CodeOperationTimedout:      "Timeout was reached",
	CodeSSLConnectError:        "SSL connect error",
	CodeAbortedByCallback:      "Operation was aborted by an application callback",
	CodeTooManyRedirects:       "Number of redirects hit maximum amount",
	CodeGotNothing:             "Server returned nothing (no headers, no data)",
	CodeSendError:              "Failed sending data to the peer",
	CodeRecvError:              "Failure when receiving data from the peer",
	CodePeerFailedVerification: "SSL peer certificate or SSH remote key was not OK",
	CodeBadContentEncoding:     "Unrecognized or bad HTTP Content or Transfer-Encoding",
}

func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error %d", int(c))
}

// Error is a failed transfer with its native result code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%d)", e.Code, int(e.Code))
	}
	return fmt.Sprintf("%s (%d): %v", e.Code, int(e.Code), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error, classifying err when code is CodeOK.
func newError(code Code, err error) *Error {
	if code == CodeOK {
		code = Classify(err)
	}
	return &Error{Code: code, Err: err}
}

// Classify maps an error returned by net/http onto a native result code.
func Classify(err error) Code {
	if err == nil {
		return CodeOK
	}

	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Code
	}

	if errors.Is(err, context.Canceled) {
		return CodeAbortedByCallback
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return CodeCouldntResolveHost
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return CodeOperationTimedout
	}

	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return CodePeerFailedVerification
	}

	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
	)
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return CodeSSLConnectError
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return CodeCouldntConnect
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return CodeCouldntConnect
		case "write":
			return CodeSendError
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CodeGotNothing
	}

	return CodeRecvError
}

// MultiCode is the result of a multiplexer operation.
type MultiCode int

const (
	MultiCallMultiPerform MultiCode = -1
	MultiOK               MultiCode = 0
	MultiBadHandle        MultiCode = 1
	MultiBadEasyHandle    MultiCode = 2
	MultiInternalError    MultiCode = 4
	MultiAddedAlready     MultiCode = 7
)

func (c MultiCode) String() string {
	switch c {
	case MultiCallMultiPerform:
		return "Please call perform again"
	case MultiOK:
		return "No error"
	case MultiBadHandle:
		return "Invalid multi handle"
	case MultiBadEasyHandle:
		return "Invalid easy handle"
	case MultiInternalError:
		return "Internal error"
	case MultiAddedAlready:
		return "The easy handle is already added to a multi handle"
	default:
		return fmt.Sprintf("Unknown multi error %d", int(c))
	}
}
