package catalog

import "errors"

// Sentinel errors for catalog operations. These form the error taxonomy the
// ingestion facade returns to callers; use errors.Is() to classify.
var (
	// ErrValidation indicates a malformed declaration. Caller error, never
	// retried by the engine.
	ErrValidation = errors.New("invalid declaration")

	// ErrIdentityConflict indicates a declaration references a namespace,
	// source, dataset, or job that has not been declared yet. The caller must
	// declare prerequisites first.
	ErrIdentityConflict = errors.New("referenced identity not found")

	// ErrInvalidTransition indicates an illegal run state change. The run
	// state is left unchanged.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrContention is returned when the optimistic-retry budget is exhausted.
	// Transient: the caller may safely retry the whole event.
	ErrContention = errors.New("version head contention")

	// ErrNotFound indicates a requested record does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrHeadConflict is returned by Store.PutIfHeadMatches when the observed
	// head no longer matches the expected one. Internal to the resolve loop;
	// surfaces to callers as ErrContention once retries are exhausted.
	ErrHeadConflict = errors.New("version head changed concurrently")

	// ErrDuplicateVersion is returned by Store.PutIfHeadMatches when a version
	// with the same id is already stored. Version ids are content-addressed, so
	// a duplicate id means the content was already declared; the resolve loop
	// reuses the stored record instead of appending.
	ErrDuplicateVersion = errors.New("version id already stored")

	// ErrRevisionConflict is returned by Store.PutRunIfMatches when the run
	// record was modified concurrently. Internal to the run-transition loop.
	ErrRevisionConflict = errors.New("run record changed concurrently")
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func isHeadConflict(err error) bool { return errors.Is(err, ErrHeadConflict) }

func isDuplicateVersion(err error) bool { return errors.Is(err, ErrDuplicateVersion) }

func isRevisionConflict(err error) bool { return errors.Is(err, ErrRevisionConflict) }
