package account

import "errors"

// Error kinds returned by the store and the service. Operations wrap an
// outcome kind together with its cause, so both can be matched with errors.Is:
//
//	errors.Is(err, ErrCreateFailed) && errors.Is(err, ErrConstraintViolation)
var (
	// ErrInvalidInput reports empty or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConstraintViolation reports a duplicate username, email or student
	// number, or a broken identity reference, rejected by the store.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrStoreUnavailable reports a connection or transport failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound reports a lookup that matched no row.
	ErrNotFound = errors.New("not found")

	// ErrAuthFailed is the single outcome of a rejected login. It does not say
	// whether the username or the password was wrong.
	ErrAuthFailed = errors.New("invalid credentials")

	// ErrIndeterminate reports an existence check that could not be answered.
	ErrIndeterminate = errors.New("existence could not be determined")

	// ErrCreateFailed reports a rolled back provisioning transaction.
	ErrCreateFailed = errors.New("create failed")

	// ErrUpdateFailed reports an update or deactivation that was not applied.
	ErrUpdateFailed = errors.New("update failed")
)
