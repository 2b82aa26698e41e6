package interfaces

import "errors"

// Semantic storage and startup errors shared between the store and the job
// engine. The CLI maps these to distinct exit codes.
var (
	// ErrDuplicateRunningJob - a running job already exists for the source path.
	ErrDuplicateRunningJob = errors.New("a running job already exists for this source")

	// ErrLockContention - another live process holds the source lock.
	ErrLockContention = errors.New("source is locked by another job")

	// ErrSourceChanged - the source fingerprint no longer matches the job being resumed.
	ErrSourceChanged = errors.New("source file changed since the job started")

	// ErrNotFound - the requested row does not exist.
	ErrNotFound = errors.New("not found")
)
