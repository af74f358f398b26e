package walstore

import "errors"

// Sentinel errors for the WAL storage engine, matching the taxonomy in
// spec §7. Callers compare with errors.Is; wrapping with fmt.Errorf("...: %w", ...)
// preserves the sentinel while adding context, the same idiom the teacher
// repo uses for ErrNoNewArchiveData / ErrInvalidTimeRange.
var (
	ErrContainerAlreadyExists  = errors.New("walstore: container already exists")
	ErrContainerNotFound       = errors.New("walstore: container not found")
	ErrContainerCreationFailed = errors.New("walstore: container creation failed")
	ErrContainerDeletionFailed = errors.New("walstore: container deletion failed")
	ErrDirectoryCreationFailed = errors.New("walstore: directory creation failed")
	ErrDirectoryReadFailed     = errors.New("walstore: directory read failed")
	ErrFileReadFailed          = errors.New("walstore: file read failed")
	ErrFileWriteFailed         = errors.New("walstore: file write failed")
	ErrItemReadFailed          = errors.New("walstore: item read failed")
	ErrItemWriteFailed         = errors.New("walstore: item write failed")
	ErrItemNotFound            = errors.New("walstore: item not found")
	ErrCorruptedData           = errors.New("walstore: corrupted data")
)
