// Package fault classifies clip worker failures into a small set of kinds,
// each carrying a message and a retryable flag.
package fault

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Kind identifies the category of a failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindDownload covers source acquisition failures.
	KindDownload
	// KindProcessing covers tool crashes and bad exit codes.
	KindProcessing
	// KindValidation covers rejected time ranges and durations.
	KindValidation
	// KindStorage covers artifact store failures.
	KindStorage
	// KindDatabase covers clip record store failures.
	KindDatabase
	// KindConfiguration covers missing or invalid settings.
	KindConfiguration
)

// Code returns the stable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindDownload:
		return "VIDEO_DOWNLOAD_ERROR"
	case KindProcessing:
		return "VIDEO_PROCESSING_ERROR"
	case KindValidation:
		return "VIDEO_VALIDATION_ERROR"
	case KindStorage:
		return "S3_UPLOAD_ERROR"
	case KindDatabase:
		return "DATABASE_ERROR"
	case KindConfiguration:
		return "CONFIGURATION_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

func (k Kind) String() string {
	return k.Code()
}

// Error is a classified failure.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Download returns a download error. Retryable unless the cause is permanent.
func Download(msg string, retryable bool, err error) *Error {
	return &Error{Kind: KindDownload, Message: msg, Retryable: retryable, Err: err}
}

// Processing returns a non-retryable processing error.
func Processing(msg string, err error) *Error {
	return &Error{Kind: KindProcessing, Message: msg, Err: err}
}

// Validation returns a non-retryable validation error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Storage returns a retryable artifact store error.
func Storage(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Retryable: true, Err: err}
}

// Database returns a retryable record store error.
func Database(msg string, err error) *Error {
	return &Error{Kind: KindDatabase, Message: msg, Retryable: true, Err: err}
}

// Configuration returns a fatal configuration error.
func Configuration(msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// transportMarkers are message fragments reported by resolvers and dialers
// when errors cross process boundaries as plain strings.
var transportMarkers = []string{"ECONNREFUSED", "ETIMEDOUT", "ENOTFOUND", "connection refused", "i/o timeout", "no such host"}

// IsRetryable reports whether err may succeed on a later attempt.
// Classified errors answer with their own flag; otherwise connection refused,
// timeouts and DNS failures are retryable wherever they occur.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var fe *Error
	if errors.As(err, &fe) {
		if fe.Retryable {
			return true
		}
		// A transport failure underneath a permanent-looking wrapper still wins.
		return fe.Err != nil && isTransport(fe.Err)
	}
	return isTransport(err)
}

func isTransport(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, m := range transportMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
