package errors

import "net/http"

// Error code constants. Errors carry code + params, clients render messages.

// Change session error codes.
const (
	CodeChangeNotActive   = "CHANGE_NOT_ACTIVE"
	CodeChangeNotFound    = "CHANGE_NOT_FOUND"
	CodeChangeNotInReview = "CHANGE_NOT_IN_REVIEW"
)

// Provisioning error codes.
const (
	CodeProvisionRunning    = "PROVISION_RUNNING"
	CodeProvisionNotFound   = "PROVISION_NOT_FOUND"
	CodeProvisionNotRunning = "PROVISION_NOT_RUNNING"
	CodeProvisionNotDone    = "PROVISION_NOT_TERMINAL"
	CodeProcessNotFound     = "PROCESS_NOT_FOUND"
	CodeWorkerRejected      = "WORKER_VALIDATION_FAILED"
	CodeWorkerUnavailable   = "WORKER_UNAVAILABLE"
)

// Inventory error codes.
const (
	CodeDeviceNotFound = "DEVICE_NOT_FOUND"
	CodeDeviceExists   = "DEVICE_ALREADY_EXISTS"
)

// Auth error codes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodePermDenied   = "PERMISSION_DENIED"
)

// Validation error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
)

// ErrProvisionRunningf creates the lock-contention conflict returned when a
// deploy is attempted while another provisioning run is active.
func ErrProvisionRunningf(activeID int64) *AppError {
	return &AppError{
		Code:       CodeProvisionRunning,
		Message:    "another provisioning run is already active",
		HTTPStatus: http.StatusConflict,
		Params:     map[string]interface{}{"active_provision_id": activeID},
	}
}

// ErrChangeNotActivef creates the conflict returned when an operation
// requires an active change session and the user has none.
func ErrChangeNotActivef() *AppError {
	return &AppError{
		Code:       CodeChangeNotActive,
		Message:    "you are currently not in a change",
		HTTPStatus: http.StatusConflict,
	}
}
