package registry

import "errors"

var (
	// ErrNonMonotonic is returned by SyncTo when the requested version is
	// lower than the cached one. The cache never rewinds.
	ErrNonMonotonic = errors.New("registry: non-monotonic sync")

	// ErrMissingKey is returned when a pinned view lacks a requested key.
	ErrMissingKey = errors.New("registry: missing key")

	// ErrDecode is returned when a stored value does not decode as the
	// record type its key family requires.
	ErrDecode = errors.New("registry: decode failure")

	// ErrNodeMissingOperator is returned when a node record references an
	// operator the snapshot does not contain.
	ErrNodeMissingOperator = errors.New("registry: node missing operator")

	// ErrNonUniqueID is returned when a node is listed as a member of
	// more than one subnet. Records whose keys parse to the same
	// principal are not checked; one of them replaces the other.
	ErrNonUniqueID = errors.New("registry: non-unique id")

	// ErrUnknownVersion is returned by At for versions never synced.
	ErrUnknownVersion = errors.New("registry: unknown version")
)
