package ft

import "errors"

var (
	// ErrMissingFields rejects a malformed proposal. No state changes.
	ErrMissingFields = errors.New("missing fields")

	// ErrNotFound means the referenced file, user or task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict rejects a stale or contradictory proposal, e.g. a rename
	// whose old path no longer matches the catalog.
	ErrConflict = errors.New("path mismatch")

	// ErrInvalidPath means a task targets a path with no catalog record.
	ErrInvalidPath = errors.New("invalid path")

	// ErrUnreadable is a local I/O failure while identifying content.
	ErrUnreadable = errors.New("unreadable")

	// ErrNetwork wraps transport failures talking to the server.
	ErrNetwork = errors.New("network failure")
)
