package vlabel

import "errors"

// Sentinel errors returned by this package's entry points, per the error
// kinds enumerated in the component design. Callers should compare with
// errors.Is; call sites wrap these with fmt.Errorf("...: %w", ...) to add
// context (which leaf, which vdev).
var (
	// ErrIO indicates a device is dead or all of its slots are
	// unreadable/unwritable.
	ErrIO = errors.New("vlabel: I/O error")

	// ErrBusy indicates a leaf is in use by another pool, or duplicated
	// within the current add/create transaction.
	ErrBusy = errors.New("vlabel: resource busy")

	// ErrNameTooLong indicates a property tree exceeded the fixed-size
	// phys region when packed.
	ErrNameTooLong = errors.New("vlabel: name too long")

	// ErrInvalidArgument indicates the property encoder rejected a tree
	// for a reason other than running out of room.
	ErrInvalidArgument = errors.New("vlabel: invalid argument")

	// ErrNoDevice indicates no live leaves were available to operate on.
	ErrNoDevice = errors.New("vlabel: no device")
)
