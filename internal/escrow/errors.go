package escrow

import "errors"

var (
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidDuration rejects zero or negative lock durations.
	ErrInvalidDuration = errors.New("escrow: duration must be positive")
	// ErrLockTooLong is returned when the unlock time is beyond the maximum lock.
	ErrLockTooLong = errors.New("escrow: lock exceeds maximum duration")
	// ErrLockNotInFuture is returned when the quantized unlock time is not after now.
	ErrLockNotInFuture = errors.New("escrow: unlock time must be in the future")
	// ErrNoActiveLock is returned for withdrawn, unknown or expired positions.
	ErrNoActiveLock = errors.New("escrow: no active lock")
	// ErrDurationNotIncreased is returned when an extension does not move the unlock time forward.
	ErrDurationNotIncreased = errors.New("escrow: unlock time can only increase")
	// ErrLockNotExpired is returned by Withdraw before the unlock time.
	ErrLockNotExpired = errors.New("escrow: lock has not expired")
	// ErrNotOwner is returned when the caller does not own the position.
	ErrNotOwner = errors.New("escrow: caller is not the position owner")
	// ErrFutureQuery is returned for historical queries past the current moment.
	ErrFutureQuery = errors.New("escrow: query time is in the future")
)

// IsValidation reports whether err is a rejected precondition rather than a
// collaborator or storage failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInvalidDuration, ErrLockTooLong, ErrLockNotInFuture,
		ErrNoActiveLock, ErrDurationNotIncreased, ErrLockNotExpired, ErrNotOwner, ErrFutureQuery,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
