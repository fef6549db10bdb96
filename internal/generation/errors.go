package generation

import (
	"fmt"
	"net/http"
)

// Kind names a pipeline failure. Values double as the "error" field of the
// JSON error body.
type Kind string

const (
	KindMissingField           Kind = "MissingField"
	KindInvalidPath            Kind = "InvalidPath"
	KindUnknownTemplate        Kind = "UnknownTemplate"
	KindFaceNotFound           Kind = "FaceNotFound"
	KindStorageUnavailable     Kind = "StorageUnavailable"
	KindInvalidFaceImage       Kind = "InvalidFaceImage"
	KindTemplateNotConfigured  Kind = "TemplateNotConfigured"
	KindTemplateUnreachable    Kind = "TemplateUnreachable"
	KindInferenceFailed        Kind = "InferenceFailed"
	KindInvalidInferenceOutput Kind = "InvalidInferenceOutput"
	KindResultFetchFailed      Kind = "ResultFetchFailed"
	KindResultUploadFailed     Kind = "ResultUploadFailed"
	KindSigningFailed          Kind = "SigningFailed"
)

// Error is the only error type Run returns. Status is the HTTP status the
// failure maps to: 400 caller input, 404 missing face, 503 environment,
// 500 upstream.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, status int, message, details string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Details: details, Err: err}
}

func badRequest(kind Kind, message, details string) *Error {
	return newError(kind, http.StatusBadRequest, message, details, nil)
}

func unavailable(kind Kind, message, hint string, err error) *Error {
	return newError(kind, http.StatusServiceUnavailable, message, hint, err)
}

func upstream(kind Kind, message string, err error) *Error {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newError(kind, http.StatusInternalServerError, message, details, err)
}
