package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem module errors
// 13000-13099: Submission errors
// 13200-13299: Evaluation lifecycle & appeal errors (client side)

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	Conflict            ErrorCode = 10009

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Problem Module Errors (12000-12999) ==========

	ProblemNotFound     ErrorCode = 12000
	ProblemNotPublished ErrorCode = 12005
	InvalidDifficulty   ErrorCode = 12006
	InvalidTag          ErrorCode = 12201

	// ========== Submission Errors (13000-13099) ==========

	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	SolutionTooLarge       ErrorCode = 13002
	SubmitTooFrequently    ErrorCode = 13004
	ProblemNotSubmittable  ErrorCode = 13005
	EvaluationFailed       ErrorCode = 13101
	ImageUnreadable        ErrorCode = 13102

	// ========== Evaluation Lifecycle & Appeal Errors (13200-13299) ==========

	// Failures returned by the resource client
	TransportFailure  ErrorCode = 13200
	ServerRejected    ErrorCode = 13201
	MalformedResponse ErrorCode = 13202

	// State machine guards
	InconsistentSnapshot ErrorCode = 13210
	InvalidTransition    ErrorCode = 13211
	AppealLimitReached   ErrorCode = 13212

	// Appeal composition
	AppealBatchInvalid ErrorCode = 13220
	AppealNotSelected  ErrorCode = 13221

	// Synchronization
	SyncDegraded ErrorCode = 13230
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Conflict:            "Request conflicts with current state",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Problem
	ProblemNotFound:     "Problem not found",
	ProblemNotPublished: "Problem is not published yet",
	InvalidDifficulty:   "Difficulty is out of range",
	InvalidTag:          "Invalid topic",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	SolutionTooLarge:       "Solution is too large",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	ProblemNotSubmittable:  "This problem cannot be submitted at the moment",
	EvaluationFailed:       "Evaluation failed",
	ImageUnreadable:        "Could not extract LaTeX from the uploaded image",

	// Evaluation lifecycle
	TransportFailure:     "Request could not reach the evaluation service",
	ServerRejected:       "Request rejected by the evaluation service",
	MalformedResponse:    "Evaluation service returned an unreadable response",
	InconsistentSnapshot: "Submission snapshot is inconsistent with current state",
	InvalidTransition:    "Operation is not allowed in the current submission status",
	AppealLimitReached:   "No appeal attempts remaining",
	AppealBatchInvalid:   "Appeal batch is incomplete",
	AppealNotSelected:    "Error is not selected for appeal",
	SyncDegraded:         "Submission synchronization degraded",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == ProblemNotPublished:
		return 403
	case c == NotFound, c == ProblemNotFound, c == SubmissionNotFound:
		return 404
	case c == Conflict, c == InvalidTransition, c == AppealLimitReached:
		return 409
	case c == SolutionTooLarge:
		return 413
	case c == AppealBatchInvalid, c == AppealNotSelected, c == ImageUnreadable, c == InvalidDifficulty, c == InvalidTag:
		return 422
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}

// Retryable reports whether a failure with this code may succeed on a later read.
// Only polling reads act on it; writes are never retried automatically.
func (c ErrorCode) Retryable() bool {
	switch c {
	case TransportFailure, Timeout, ServiceUnavailable, MalformedResponse:
		return true
	default:
		return false
	}
}
