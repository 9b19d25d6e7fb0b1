package orchestrator

import "errors"

var (
	// ErrAlreadyActive is returned by StartSession while a session is provisioning, live or stopping.
	ErrAlreadyActive = errors.New("a session is already active")

	// ErrNotActive is returned by StopSession when there is nothing to stop.
	ErrNotActive = errors.New("no active session")

	// ErrNoChannel is returned by StartSession before a channel credential was loaded.
	ErrNoChannel = errors.New("no channel loaded")

	// ErrInvalidRequest is returned for malformed start requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrVideoNotFound is returned when the requested video file does not exist.
	ErrVideoNotFound = errors.New("video not found")

	// ErrVideoExists is returned by SaveVideo when the target file is already present.
	ErrVideoExists = errors.New("video already exists")

	// ErrUploadsDisabled is returned by SaveVideo when uploads are turned off.
	ErrUploadsDisabled = errors.New("video uploads are disabled")

	// ErrStoppedDuringProvisioning is returned by StartSession when StopSession
	// arrived while the broadcast was being created.
	ErrStoppedDuringProvisioning = errors.New("session stopped during provisioning")
)
