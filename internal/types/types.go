// internal/types/types.go
package types

import (
	"errors"
	"fmt"
)

// --- Enums using iota ---

// Stage is a step of the order lifecycle. Values are ordered: a stage may
// only move to the next one, or side-exit to StageFailed.
type Stage int32

const (
	StagePending Stage = iota
	StageRouting
	StageBuilding
	StageSubmitted
	StageConfirmed
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRouting:
		return "routing"
	case StageBuilding:
		return "building"
	case StageSubmitted:
		return "submitted"
	case StageConfirmed:
		return "confirmed"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("UnknownStage(%d)", int32(s))
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s Stage) IsTerminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// Next returns the stage that follows s on the success path.
// Terminal stages and unknown values have no successor.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StagePending, StageRouting, StageBuilding, StageSubmitted:
		return s + 1, true
	default:
		return s, false
	}
}

// Stages lists every stage in lifecycle order, failed last.
func Stages() []Stage {
	return []Stage{StagePending, StageRouting, StageBuilding, StageSubmitted, StageConfirmed, StageFailed}
}

// --- Standardized Errors ---

// ErrorCode defines standard error reasons.
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota
	ErrConfigLoading
	ErrMalformedRequest  // Intake rejected the request before an order existed
	ErrCapacityExceeded  // Admission control refused a new pipeline
	ErrRouteSelection    // No candidate venue produced a usable quote
	ErrBuildFailed       // Transaction construction failed
	ErrSubmitFailed      // Venue dispatch or acknowledgement failed
	ErrStageTimeout      // An external call exceeded its stage budget
	ErrCancelled         // Pipeline context was cancelled at a stage boundary
	ErrInvalidTransition // State machine misuse
	ErrDeliveryMiss      // Sink closed or write failed; never surfaced to callers
)

func (c ErrorCode) String() string {
	switch c {
	case ErrConfigLoading:
		return "config_loading"
	case ErrMalformedRequest:
		return "malformed_request"
	case ErrCapacityExceeded:
		return "capacity_exceeded"
	case ErrRouteSelection:
		return "route_selection"
	case ErrBuildFailed:
		return "build_failed"
	case ErrSubmitFailed:
		return "submit_failed"
	case ErrStageTimeout:
		return "stage_timeout"
	case ErrCancelled:
		return "cancelled"
	case ErrInvalidTransition:
		return "invalid_transition"
	case ErrDeliveryMiss:
		return "delivery_miss"
	default:
		return "unknown"
	}
}

// Base errors wrapped by TradingError when there is no lower-level cause.
var (
	ErrBaseNoQuotes     = errors.New("no candidate quotes")
	ErrBaseSinkClosed   = errors.New("sink closed")
	ErrBasePoolFull     = errors.New("worker pool at capacity")
	ErrBaseInvalidInput = errors.New("invalid input")
)

// TradingError standardizes application errors.
type TradingError struct {
	Code    ErrorCode // Standardized code
	Message string    // Human-readable message, safe to show to an observer
	Wrapped error     // Original error, if any (for debugging)
}

func (e TradingError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap provides compatibility with errors.Unwrap
func (e TradingError) Unwrap() error {
	return e.Wrapped
}

// Retryable reports whether a caller may reasonably try the same operation
// again. Nothing in the engine retries automatically.
func (e TradingError) Retryable() bool {
	switch e.Code {
	case ErrRouteSelection, ErrStageTimeout, ErrCapacityExceeded:
		return true
	default:
		return false
	}
}

// NewError builds a TradingError.
func NewError(code ErrorCode, message string, wrapped error) TradingError {
	return TradingError{Code: code, Message: message, Wrapped: wrapped}
}

// CodeOf extracts the ErrorCode carried by err, or ErrUnknown.
func CodeOf(err error) ErrorCode {
	var te TradingError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrUnknown
}

// PublicMessage returns the message an observer may see for err.
// It is never empty.
func PublicMessage(err error) string {
	var te TradingError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return "transaction failed"
}
