// Package errs defines the component-local error kinds from spec §7. They
// are sentinel-wrapped so callers compare with errors.Is rather than string
// matching, following the pgx.ErrNoRows comparison idiom used throughout the
// teacher repository's repository package.
package errs

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", KindX) at the point of
// failure so errors.Is(err, errs.KindX) still works after wrapping.
var (
	// CorruptBitmap: an Elias-Gamma code could not be decoded (impossible
	// zero-count, truncated remainder). Terminal for the current day's
	// merge only; the day is skipped and phase 2 still proceeds.
	CorruptBitmap = errors.New("corrupt bitmap")

	// BitmapArithmetic: merge alignment overflowed while growing a bitmap.
	BitmapArithmetic = errors.New("bitmap arithmetic overflow")

	// BlockNotFound: the object store exhausted its 20-miss probe budget.
	BlockNotFound = errors.New("block not found")

	// AlreadyExists: start() on an already-running worker. Treated
	// idempotently by callers (noop + warning).
	AlreadyExists = errors.New("already exists")

	// NotFound: get()/stop() on an absent worker. Treated idempotently.
	NotFound = errors.New("not found")

	// ProvisioningFailed: the data-layer task resolved to Failed. Terminal
	// for Initializing; moves the indexer to Repairing.
	ProvisioningFailed = errors.New("provisioning failed")

	// Unsupported: a rule variant the Block-Stream worker cannot handle
	// (currently Event). Logged and refuses to start.
	Unsupported = errors.New("unsupported rule variant")

	// Conflict: an optimistic compare-and-set lost the race and should be
	// retried by the caller with a freshly read value.
	Conflict = errors.New("optimistic update conflict")
)
