package aranet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sguter90/aranetmaestro/pkg/models"
)

var (
	// ErrNotConnected is returned for operations on a closed link
	ErrNotConnected = errors.New("not connected to device")
	// ErrCancelled is returned when a reconnect loop is cancelled
	ErrCancelled = errors.New("operation cancelled")
	// ErrCharacteristicNotFound is returned when the device lacks a characteristic
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	// ErrUnsupported is returned for operations the device model does not support
	ErrUnsupported = errors.New("operation not supported by device")
)

// DeviceNotFoundReason explains why discovery failed
type DeviceNotFoundReason int

const (
	NotFoundNoDevicesInRange DeviceNotFoundReason = iota
	NotFoundNoMatch
	NotFoundScanTimeout
	NotFoundNoAdapter
)

func (r DeviceNotFoundReason) String() string {
	switch r {
	case NotFoundNoDevicesInRange:
		return "no devices in range"
	case NotFoundScanTimeout:
		return "scan timed out"
	case NotFoundNoAdapter:
		return "no Bluetooth adapter available"
	}
	return "device not found"
}

// DeviceNotFoundError is returned when discovery does not find the device
type DeviceNotFoundError struct {
	Reason     DeviceNotFoundReason
	Identifier string
	Duration   time.Duration
	Err        error
}

func (e *DeviceNotFoundError) Error() string {
	switch e.Reason {
	case NotFoundNoMatch:
		return fmt.Sprintf("device not found: device '%s' not found", e.Identifier)
	case NotFoundScanTimeout:
		return fmt.Sprintf("device not found: scan timed out after %s", e.Duration)
	}
	if e.Err != nil {
		return fmt.Sprintf("device not found: %s: %v", e.Reason, e.Err)
	}
	return "device not found: " + e.Reason.String()
}

func (e *DeviceNotFoundError) Unwrap() error { return e.Err }

// ConnectionFailureReason explains why link establishment failed
type ConnectionFailureReason int

const (
	ConnFailureOther ConnectionFailureReason = iota
	ConnFailureAdapterUnavailable
	ConnFailureOutOfRange
	ConnFailureRejected
	ConnFailureTimeout
	ConnFailureAlreadyConnected
	ConnFailurePairingFailed
	ConnFailureLinkLost
)

func (r ConnectionFailureReason) String() string {
	switch r {
	case ConnFailureAdapterUnavailable:
		return "Bluetooth adapter unavailable"
	case ConnFailureOutOfRange:
		return "device out of range"
	case ConnFailureRejected:
		return "connection rejected by device"
	case ConnFailureTimeout:
		return "connection timed out"
	case ConnFailureAlreadyConnected:
		return "device already connected"
	case ConnFailurePairingFailed:
		return "pairing failed"
	case ConnFailureLinkLost:
		return "link lost"
	}
	return "connection failed"
}

// ConnectionError is returned when a device was found but the link failed
type ConnectionError struct {
	DeviceID string
	Reason   ConnectionFailureReason
	Err      error
}

func (e *ConnectionError) Error() string {
	msg := "connection failed: " + e.Reason.String()
	if e.DeviceID != "" {
		msg = fmt.Sprintf("connection to '%s' failed: %s", e.DeviceID, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvalidDataError is returned by the codec for malformed buffers
type InvalidDataError struct {
	Message  string
	Expected int
	Actual   int
}

func (e *InvalidDataError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("invalid data: %s (expected %d bytes, got %d)", e.Message, e.Expected, e.Actual)
	}
	return "invalid data: " + e.Message
}

func shortBuffer(what string, expected, actual int) error {
	return &InvalidDataError{Message: what, Expected: expected, Actual: actual}
}

// HistoryError wraps a failure during history download
type HistoryError struct {
	Param models.HistoryParam
	Err   error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("history download failed (param=%s): %v", e.Param, e.Err)
}

func (e *HistoryError) Unwrap() error { return e.Err }

// TimeoutError is returned when an operation exceeds its deadline
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation '%s' timed out after %s", e.Operation, e.Duration)
}

// ReconnectError is returned when reconnection attempts are exhausted
type ReconnectError struct {
	Identifier string
	Attempts   int
	Err        error
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("reconnect to '%s' failed after %d attempt(s): %v", e.Identifier, e.Attempts, e.Err)
}

func (e *ReconnectError) Unwrap() error { return e.Err }

// ConfigError is returned for invalid options or setting values
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Message
}

// WriteError is returned when a characteristic write fails
type WriteError struct {
	UUID string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed to characteristic %s: %v", e.UUID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsConnectionLost reports whether err means the link must be re-established
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsRetriable reports whether repeating the whole operation may succeed.
// Codec and configuration errors are never retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var invalid *InvalidDataError
	var cfg *ConfigError
	if errors.As(err, &invalid) || errors.As(err, &cfg) {
		return false
	}
	if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrCharacteristicNotFound) || errors.Is(err, ErrCancelled) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var timeout *TimeoutError
	var notFound *DeviceNotFoundError
	return IsConnectionLost(err) || errors.As(err, &timeout) || errors.As(err, &notFound) ||
		errors.Is(err, context.DeadlineExceeded)
}
