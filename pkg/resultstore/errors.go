package resultstore

import "errors"

// Validation failures surfaced synchronously at the point of insert. None
// of these are retryable: they indicate either a caller bug or a genuine
// data-integrity violation. Match with errors.Is.
var (
	// ErrDuplicateRun is returned when creating a run whose name already
	// exists. Enforced by the unique constraint, so exactly one of two
	// concurrent creates for the same name succeeds.
	ErrDuplicateRun = errors.New("run with this name already exists")

	// ErrRunNotFound is returned when deleting or fetching a run that does
	// not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrUnknownRun is returned when a frame or cycle references a run name
	// with no matching run row.
	ErrUnknownRun = errors.New("unknown run")

	// ErrInvalidSettings is returned when a run's settings payload is not
	// well-formed JSON.
	ErrInvalidSettings = errors.New("settings is not well-formed JSON")

	// ErrInvalidTimestamp is returned for negative frame timestamps.
	ErrInvalidTimestamp = errors.New("negative frame timestamp")

	// ErrNonMonotonicCycle is returned when a cycle counter is not strictly
	// greater than the last one appended for the same run.
	ErrNonMonotonicCycle = errors.New("cycle counter is not strictly increasing")
)
