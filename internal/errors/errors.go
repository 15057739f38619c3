package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error types for the ALPR import pipeline
 *
 * Codes follow the failure taxonomy of the pipeline: connectivity errors are
 * retried by the poller, missing-data errors drop the event, upload errors are
 * retried forever, everything else is logged at the job boundary.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Source database errors
	ErrorDatabaseUnavailable ErrorCode = "DATABASE_UNAVAILABLE"

	// Missing-data errors
	ErrorImageMissing  ErrorCode = "IMAGE_MISSING"
	ErrorNoPlate       ErrorCode = "NO_PLATE"
	ErrorUnknownCamera ErrorCode = "UNKNOWN_CAMERA"

	// Processing errors
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"

	// Upload errors
	ErrorUploadFailed ErrorCode = "UPLOAD_FAILED"

	// Startup errors
	ErrorConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	ReadID    string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether any error in err's chain is a PipelineError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Factory functions for common errors

func NewDatabaseUnavailableError(server string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDatabaseUnavailable,
		Message:   fmt.Sprintf("Database %s unavailable", server),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"server": server,
		},
		Cause: cause,
	}
}

func NewImageMissingError(readID string, role string, path string) *PipelineError {
	details := map[string]interface{}{
		"image_role": role,
	}
	msg := fmt.Sprintf("No %s image recorded for read", role)
	if path != "" {
		details["image_path"] = path
		msg = fmt.Sprintf("Unable to find %s image %s on disk", role, path)
	}
	return &PipelineError{
		Code:      ErrorImageMissing,
		Message:   msg,
		ReadID:    readID,
		Timestamp: time.Now(),
		Details:   details,
	}
}

func NewNoPlateError(cameraName string, epochMs int64) *PipelineError {
	return &PipelineError{
		Code:      ErrorNoPlate,
		Message:   "Recognizer returned no plate candidates",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"camera_name": cameraName,
			"epoch_time":  epochMs,
		},
	}
}

func NewUnknownCameraError(cameraName string) *PipelineError {
	return &PipelineError{
		Code:      ErrorUnknownCamera,
		Message:   fmt.Sprintf("No configuration section for camera %q", cameraName),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"camera_name": cameraName,
		},
	}
}

func NewRecognitionFailedError(imagePath string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("Recognition failed for %s", imagePath),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_path": imagePath,
		},
		Cause: cause,
	}
}

func NewUploadFailedError(statusCode int, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorUploadFailed,
		Message:   fmt.Sprintf("Upload returned status %d", statusCode),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"status_code": statusCode,
		},
		Cause: cause,
	}
}

func NewConfigInvalidError(key string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorConfigInvalid,
		Message:   fmt.Sprintf("Invalid configuration key %s", key),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"key": key,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for structured log fields
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.ReadID != "" {
		result["read_id"] = e.ReadID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
