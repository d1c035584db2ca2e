package model

import "errors"

var (
	// ErrInvalidURL means the submitted URL is not an absolute http(s) URL with a host.
	ErrInvalidURL = errors.New("invalid url")
	// ErrQuotaExceeded means the user hit their tier limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrExtractionFailed means no strategy produced content.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrAnalysisFailed means the model output could not be parsed after a retry.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrPersistenceFailed means the store rejected a write.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrInvalidRequest means a required field such as the user id is missing.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound means no record matched the lookup.
	ErrNotFound = errors.New("not found")
)
