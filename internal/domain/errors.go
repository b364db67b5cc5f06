// Package domain holds the error taxonomy shared across the server.
package domain

import "errors"

// Filesystem errors
var (
	// ErrNotFound indicates the requested path does not exist
	ErrNotFound = errors.New("path not found")

	// ErrAlreadyExists indicates the destination already exists
	ErrAlreadyExists = errors.New("path already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrCrossDevice indicates a rename across filesystem boundaries
	ErrCrossDevice = errors.New("cross-device operation unsupported")

	// ErrTrashUnavailable indicates no trash directory could be used
	ErrTrashUnavailable = errors.New("trash unavailable")
)

// Server errors
var (
	// ErrWatchUnavailable indicates the filesystem watch could not be established
	ErrWatchUnavailable = errors.New("filesystem watch unavailable")

	// ErrVcsQueryFailed indicates the version-control status query failed
	ErrVcsQueryFailed = errors.New("vcs query failed")

	// ErrCancelled indicates the operation was cancelled
	ErrCancelled = errors.New("operation cancelled")

	// ErrPartialFailure indicates a multi-step operation partially succeeded
	ErrPartialFailure = errors.New("operation partially failed")

	// ErrRootInvalidated indicates the tree root itself disappeared
	ErrRootInvalidated = errors.New("root invalidated")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)
